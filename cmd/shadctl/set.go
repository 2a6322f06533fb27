package main

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/cobra"

	"github.com/shadrt/shad/pkg/dset"
	"github.com/shadrt/shad/pkg/log"
	"github.com/shadrt/shad/pkg/transport"
)

var setCmd = &cobra.Command{
	Use:   "set [count]",
	Short: "Build a distributed set, insert count ints with duplicates, and report its size",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadRuntimeConfig()
		count := 1000
		if len(args) == 1 {
			fmt.Sscanf(args[0], "%d", &count)
		}

		rt := transport.New(cfg.Localities, cfg.WorkersPerLocality)
		defer rt.Close()

		s := dset.New[uint64](rt, "demo-set", func(v uint64) uint64 {
			return xxhash.Sum64(uint64ToBytes(v))
		})
		defer s.Destroy()

		for i := 0; i < count; i++ {
			s.Insert(uint64(i % (count/2 + 1)))
		}

		log.Info(fmt.Sprintf("inserted %d values, distinct size %d", count, s.Size()))
		return nil
	},
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
