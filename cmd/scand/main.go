// cmd/scand/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/d1childress/neo/pkg/api"
	"github.com/d1childress/neo/pkg/config"
	"github.com/d1childress/neo/pkg/lifecycle"
	"github.com/d1childress/neo/pkg/logger"
)

func main() {
	configPath := flag.String("config", "/etc/neo/scand.json", "Path to service config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "scand: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	var cfg config.ScanServiceConfig

	if err := config.LoadAndValidate(configPath, &cfg); err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	server := api.NewServer(&cfg, log)

	return lifecycle.Run(context.Background(), "scand", server, log)
}
