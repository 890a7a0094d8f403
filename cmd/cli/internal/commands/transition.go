package commands

import (
	"context"
	"fmt"
	"os"
)

type ActivateCmd struct {
	ClientFlags `embed:""`

	Code string `arg:"" help:"Code scanned from the asset"`
}

func (a *ActivateCmd) Run(ctx context.Context, globals *Globals) error {
	api, err := a.client()
	if err != nil {
		return err
	}

	asset, err := api.Activate(ctx, a.Code)
	if err != nil {
		return fmt.Errorf("failed to activate asset: %w", err)
	}

	fmt.Println("Asset activated.")
	printAsset(os.Stdout, asset)
	return nil
}

type CompleteCmd struct {
	ClientFlags `embed:""`

	Asset string `arg:"" help:"Asset id, or code when it is not a uuid"`
	Notes string `help:"Notes recorded in the history" default:""`
}

func (c *CompleteCmd) Run(ctx context.Context, globals *Globals) error {
	api, err := c.client()
	if err != nil {
		return err
	}

	id, err := resolveAsset(ctx, api, c.Asset)
	if err != nil {
		return err
	}

	asset, err := api.Complete(ctx, id, c.Notes)
	if err != nil {
		return fmt.Errorf("failed to complete asset: %w", err)
	}

	fmt.Println("Asset completed.")
	printAsset(os.Stdout, asset)
	return nil
}
