package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/shadrt/shad/pkg/config"
	"github.com/shadrt/shad/pkg/log"
	"github.com/shadrt/shad/pkg/metrics"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shadctl",
	Short: "shadctl - demo driver for the shad distributed data-structure library",
	Long: `shadctl boots an in-process shad runtime and drives its distributed
array, map, set and aggregation containers, so the library's behavior can be
observed without wiring it into a larger program.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"shadctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML runtime configuration file")
	rootCmd.PersistentFlags().Int("localities", 4, "Number of in-process localities to simulate")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(arrayCmd)
	rootCmd.AddCommand(mapCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(serveMetricsCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func loadRuntimeConfig() *config.Runtime {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	if path == "" {
		cfg := config.Default()
		n, _ := rootCmd.PersistentFlags().GetInt("localities")
		cfg.Localities = n
		return cfg
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	return cfg
}

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Expose Prometheus metrics over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadRuntimeConfig()
		addr := cfg.Metrics.Addr
		if addr == "" {
			addr = ":9090"
		}
		log.Info(fmt.Sprintf("serving metrics on %s", addr))
		http.Handle("/metrics", metrics.Handler())
		return http.ListenAndServe(addr, nil)
	},
}
