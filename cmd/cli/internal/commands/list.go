package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/wolfeidau/qrtrack/internal/client"
	"github.com/wolfeidau/qrtrack/internal/lifecycle"
	"github.com/wolfeidau/qrtrack/internal/models"
)

type ListCmd struct {
	ClientFlags `embed:""`

	Status string `help:"Only assets in this status (inactive, active, completed)" default:""`
	Mine   bool   `help:"Only assets in your custody" default:"false"`
	Limit  int    `help:"Page size when listing every asset" default:"50"`
	Offset int    `help:"Page offset when listing every asset" default:"0"`
	Watch  bool   `help:"Watch for changes (refresh every 5 seconds)" default:"false"`
}

func (l *ListCmd) Validate() error {
	if l.Mine && l.Status != "" {
		return errors.New("--mine and --status cannot be combined")
	}
	if l.Status != "" {
		if _, err := models.ParseStatus(l.Status); err != nil {
			return err
		}
	}
	return nil
}

func (l *ListCmd) Run(ctx context.Context, globals *Globals) error {
	api, err := l.client()
	if err != nil {
		return err
	}

	if l.Watch {
		return l.watchAssets(ctx, api)
	}

	return l.listAssets(ctx, api)
}

func (l *ListCmd) listAssets(ctx context.Context, api *client.Client) error {
	var (
		assets []*models.Asset
		title  string
		err    error
	)

	switch {
	case l.Mine:
		title = "Assets in your custody"
		assets, err = api.ListMine(ctx)
	case l.Status != "":
		status, _ := models.ParseStatus(l.Status)
		title = fmt.Sprintf("Assets (status: %s)", status)
		assets, err = api.ListByStatus(ctx, status)
	default:
		var page *lifecycle.Page
		page, err = api.ListAll(ctx, l.Limit, l.Offset)
		if page != nil {
			title = fmt.Sprintf("Assets (offset: %d, limit: %d, count: %d)", page.Offset, page.Limit, page.Count)
			assets = page.Assets
		}
	}
	if err != nil {
		return fmt.Errorf("failed to list assets: %w", err)
	}

	fmt.Printf("%s:\n", title)
	printAssets(os.Stdout, assets)
	return nil
}

func (l *ListCmd) watchAssets(ctx context.Context, api *client.Client) error {
	fmt.Println("Watching assets (press Ctrl+C to stop)...")
	fmt.Println()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	// Print initial state
	if err := l.listAssets(ctx, api); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// Clear screen and print updated assets
			fmt.Print("\033[2J\033[H") // Clear screen and move cursor to top
			fmt.Printf("Assets (updated at %s)\n", time.Now().Format("15:04:05"))
			fmt.Println()

			if err := l.listAssets(ctx, api); err != nil {
				fmt.Printf("Error updating asset list: %v\n", err)
			}
		}
	}
}
