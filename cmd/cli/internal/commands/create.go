package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wolfeidau/qrtrack/internal/client"
	"github.com/wolfeidau/qrtrack/internal/lifecycle"
	"gopkg.in/yaml.v3"
)

type CreateCmd struct {
	ClientFlags `embed:""`

	Code string `arg:"" help:"Asset code"`
}

func (c *CreateCmd) Run(ctx context.Context, globals *Globals) error {
	api, err := c.client()
	if err != nil {
		return err
	}

	asset, err := api.Create(ctx, c.Code)
	if err != nil {
		return fmt.Errorf("failed to create asset: %w", err)
	}

	printAsset(os.Stdout, asset)
	return nil
}

type BulkCmd struct {
	ClientFlags `embed:""`

	File string `arg:"" help:"File of codes: .yaml/.yml or .json (a list, or an object with a codes list), anything else one code per line" type:"existingfile"`
}

func (b *BulkCmd) Run(ctx context.Context, globals *Globals) error {
	codes, err := loadCodes(b.File)
	if err != nil {
		return err
	}

	api, err := b.client()
	if err != nil {
		return err
	}

	assets, err := api.CreateBulk(ctx, codes)
	if err != nil {
		if client.IsReason(err, lifecycle.ReasonDuplicateCode) {
			return fmt.Errorf("nothing was created: %w", err)
		}
		return fmt.Errorf("failed to create assets: %w", err)
	}

	fmt.Printf("Created %d assets from %s\n", len(assets), b.File)
	printAssets(os.Stdout, assets)
	return nil
}

// codesFile is the object form of a bulk file.
type codesFile struct {
	Codes []string `yaml:"codes" json:"codes"`
}

// loadCodes reads the codes in path, choosing the format by extension.
func loadCodes(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var codes []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		codes, err = decodeCodes(raw, yaml.Unmarshal)
	case ".json":
		codes, err = decodeCodes(raw, json.Unmarshal)
	default:
		codes, err = scanLines(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("%s contains no codes", path)
	}
	return codes, nil
}

// decodeCodes accepts either a bare list or an object with a codes list.
func decodeCodes(raw []byte, unmarshal func([]byte, any) error) ([]string, error) {
	var list []string
	if err := unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var file codesFile
	if err := unmarshal(raw, &file); err != nil {
		return nil, err
	}
	return file.Codes, nil
}

// scanLines returns each non-blank line, skipping # comments.
func scanLines(raw []byte) ([]string, error) {
	var codes []string
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		codes = append(codes, line)
	}
	return codes, scanner.Err()
}
