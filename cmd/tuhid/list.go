package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/srg/tuhi/internal/config"
	"github.com/srg/tuhi/internal/registry"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List devices from the persistent registration store",
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	storePath := cfg.StorePath
	if storePath == "" {
		storePath, err = config.DefaultStorePath()
		if err != nil {
			return fmt.Errorf("resolve default store path: %w", err)
		}
	}

	records, err := registry.NewFileStore(storePath).Load()
	if err != nil {
		return fmt.Errorf("load registration store %s: %w", storePath, err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tFAMILY\tUUID")
	for address, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\n", address, rec.Family, rec.UUID)
	}
	return w.Flush()
}
