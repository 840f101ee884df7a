package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"coredb/buffer"
	"coredb/internal/config"
	"coredb/rid"
	"coredb/storage/bptree"
	"coredb/storage/disk"
	"coredb/storage/page"
	"coredb/txn"
)

func newBenchCmd() *cobra.Command {
	var keys int

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Insert keys into a scratch B+Tree and report throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load("")
			if err != nil {
				return err
			}

			fs := afero.NewMemMapFs()
			scratch := fmt.Sprintf("/coredb-bench-%s.db", uuid.NewString())
			dm, err := disk.New(fs, scratch)
			if err != nil {
				return err
			}
			defer dm.Close()

			pool := buffer.New(cfg.PoolSize, cfg.ReplacerK, dm)
			tree := bptree.Open("bench", pool, bptree.DefaultOrder, bptree.DefaultOrder)

			tx := txn.New(txn.ReadUncommitted)
			start := time.Now()
			for i := 0; i < keys; i++ {
				tree.Insert(int64(i), rid.New(page.ID(i), 0), tx)
			}
			elapsed := time.Since(start)

			fmt.Fprintf(cmd.OutOrStdout(), "inserted %d keys in %s (%.0f keys/sec), pool size %d\n",
				keys, elapsed, float64(keys)/elapsed.Seconds(), cfg.PoolSize)
			return nil
		},
	}

	cmd.Flags().IntVar(&keys, "keys", 10000, "number of keys to insert")
	return cmd
}
