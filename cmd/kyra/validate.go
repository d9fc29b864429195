package main

import (
	"fmt"

	"github.com/kyra-dev/kyra/pkg/config"
)

// ValidateCmd checks a configuration file without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("validate requires --config")
	}

	if err := config.LoadEnvFiles(); err != nil {
		return err
	}
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	fmt.Printf("%s is valid\n", cli.Config)
	fmt.Printf("  server:   %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  database: %s\n", cfg.Database.Driver)
	if cfg.Redis.URL != "" {
		fmt.Println("  redis:    configured")
	}
	return nil
}
