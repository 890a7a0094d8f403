package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/wolfeidau/qrtrack/internal/client"
)

type ShowCmd struct {
	ClientFlags `embed:""`

	Asset string `arg:"" help:"Asset id, or code when it is not a uuid"`
}

func (s *ShowCmd) Run(ctx context.Context, globals *Globals) error {
	api, err := s.client()
	if err != nil {
		return err
	}

	id, err := resolveAsset(ctx, api, s.Asset)
	if err != nil {
		return err
	}

	details, err := api.Details(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get asset: %w", err)
	}

	printAsset(os.Stdout, details.Asset)
	fmt.Println()
	printHistory(os.Stdout, details.History)
	return nil
}

type HistoryCmd struct {
	ClientFlags `embed:""`

	Asset string `arg:"" help:"Asset id, or code when it is not a uuid"`
}

func (h *HistoryCmd) Run(ctx context.Context, globals *Globals) error {
	api, err := h.client()
	if err != nil {
		return err
	}

	id, err := resolveAsset(ctx, api, h.Asset)
	if err != nil {
		return err
	}

	history, err := api.History(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get history: %w", err)
	}

	printHistory(os.Stdout, history)
	return nil
}

// resolveAsset accepts an asset id or looks a code up.
func resolveAsset(ctx context.Context, api *client.Client, ref string) (uuid.UUID, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}
	asset, err := api.GetByCode(ctx, ref)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to find asset %q: %w", ref, err)
	}
	return asset.ID, nil
}
