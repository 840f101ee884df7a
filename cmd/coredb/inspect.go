package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"coredb/storage/disk"
	"coredb/storage/page"
)

func newInspectPageCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "inspect-page <page-id>",
		Short: "Hex-dump a single page from a database file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("inspect-page: invalid page id %q: %w", args[0], err)
			}

			dm, err := disk.New(afero.NewOsFs(), file)
			if err != nil {
				return err
			}
			defer dm.Close()

			buf := make([]byte, page.Size)
			if err := dm.ReadPage(page.ID(id), buf); err != nil {
				return fmt.Errorf("inspect-page: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "page %d (%d bytes):\n", id, page.Size)
			fmt.Fprint(cmd.OutOrStdout(), hex.Dump(buf))
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "coredb.db", "database file to read from")
	return cmd
}
