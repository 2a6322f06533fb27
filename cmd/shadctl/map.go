package main

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/cobra"

	"github.com/shadrt/shad/pkg/dmap"
	"github.com/shadrt/shad/pkg/localmap"
	"github.com/shadrt/shad/pkg/log"
	"github.com/shadrt/shad/pkg/transport"
)

var mapCmd = &cobra.Command{
	Use:   "map [count]",
	Short: "Build a distributed map, insert count string keys, and report its size",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadRuntimeConfig()
		count := 1000
		if len(args) == 1 {
			fmt.Sscanf(args[0], "%d", &count)
		}

		rt := transport.New(cfg.Localities, cfg.WorkersPerLocality)
		defer rt.Close()

		m := dmap.New[string, int](rt, "demo-map", xxhash.Sum64String, localmap.Updater[int]())
		defer m.Destroy()

		for i := 0; i < count; i++ {
			key := fmt.Sprintf("key-%d", i%(count/2+1))
			m.Insert(key, 1)
		}

		log.Info(fmt.Sprintf("inserted %d keys, distinct size %d", count, m.Size()))
		return nil
	},
}
