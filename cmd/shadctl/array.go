package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shadrt/shad/pkg/array"
	"github.com/shadrt/shad/pkg/log"
	"github.com/shadrt/shad/pkg/transport"
)

var arrayCmd = &cobra.Command{
	Use:   "array [n]",
	Short: "Build a distributed array of n ints, fill it, and run an exclusive scan",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadRuntimeConfig()
		n := uint64(20)
		if len(args) == 1 {
			fmt.Sscanf(args[0], "%d", &n)
		}

		rt := transport.New(cfg.Localities, cfg.WorkersPerLocality)
		defer rt.Close()

		arr := array.New[int64](rt, "demo-array", n, 0)
		defer arr.Destroy()

		for i := uint64(0); i < n; i++ {
			arr.Set(i, int64(i)+1)
		}

		arr.ExclusiveScan(func(acc, v int64) int64 { return acc + v }, 0)

		arr.ForEach(func(pos uint64, value int64) {
			fmt.Printf("array[%d] = %d\n", pos, value)
		})

		log.Info("array demo complete")
		return nil
	},
}
