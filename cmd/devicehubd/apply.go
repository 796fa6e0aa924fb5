package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/devicehub/pkg/adapters/boltstore"
)

// blueprintID is the minimal shape apply needs out of a blueprint YAML
// document to know what id to store it under; the full decode
// (pkg/blueprint.Decode) happens at attach time inside a running Hub.
type blueprintID struct {
	ID string `yaml:"id"`
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Load a blueprint YAML file into a hub's blueprint catalog",
	Long: `Apply stores a blueprint definition directly into the bbolt
catalog a devicehubd serve process reads from, keyed by the
blueprint's own "id" field.

Examples:
  devicehubd apply -f thermostat.yaml --data-dir ./data`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "Blueprint YAML file to apply (required)")
	applyCmd.Flags().String("data-dir", "./data", "Directory of the bbolt catalog to write into")
	_ = applyCmd.MarkFlagRequired("file")
}

func runApply(cmd *cobra.Command, _ []string) error {
	filename, _ := cmd.Flags().GetString("file")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("devicehubd: read %s: %w", filename, err)
	}

	var bp blueprintID
	if err := yaml.Unmarshal(data, &bp); err != nil {
		return fmt.Errorf("devicehubd: parse %s: %w", filename, err)
	}
	if bp.ID == "" {
		return fmt.Errorf("devicehubd: %s has no \"id\" field", filename)
	}

	store, err := boltstore.Open(dataDir)
	if err != nil {
		return fmt.Errorf("devicehubd: open store: %w", err)
	}
	defer store.Close()

	if err := store.Put(context.Background(), bp.ID, data); err != nil {
		return fmt.Errorf("devicehubd: store blueprint %s: %w", bp.ID, err)
	}

	fmt.Printf("✓ Blueprint applied: %s (%s)\n", bp.ID, filename)
	return nil
}
