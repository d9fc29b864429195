// Command kyra runs the workflow automation engine.
//
// Usage:
//
//	kyra serve --config config.yaml
//	kyra validate --config config.yaml
//	kyra schema > config-schema.json
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/kyra-dev/kyra/pkg/config"
	"github.com/kyra-dev/kyra/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the engine."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for the configuration."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." env:"LOG_LEVEL"`
	LogFile   string `help:"Log file path (empty = stderr)." env:"LOG_FILE"`
	LogFormat string `help:"Log format (simple or verbose)." env:"LOG_FORMAT"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("kyra version %s\n", version)
	return nil
}

// loadConfig reads the config file named on the command line, falling
// back to built-in defaults when none is given.
func (cli *CLI) loadConfig() (*config.Config, error) {
	if cli.Config == "" {
		return config.Default(), nil
	}
	return config.Load(cli.Config)
}

// initLogger applies CLI overrides on top of the config's logging block.
// Returns a cleanup function that closes the log file, if any.
func (cli *CLI) initLogger(cfg *config.Config) (func(), error) {
	level := cfg.Logging.Level
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	format := cfg.Logging.Format
	if cli.LogFormat != "" {
		format = cli.LogFormat
	}

	output := os.Stderr
	cleanup := func() {}
	if cli.LogFile != "" {
		file, closeFile, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, err
		}
		output = file
		cleanup = closeFile
	}

	logger.Init(logger.ParseLevel(level), output, format)
	return cleanup, nil
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("kyra"),
		kong.Description("Agentic workflow automation engine."),
		kong.UsageOnError(),
	)

	if err := ctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// Reserved exit codes: 0 normal, 1 configuration or runtime failure,
// 2 scheduler initialization failure.
func exitCode(err error) int {
	var schedErr *schedulerInitError
	if errors.As(err, &schedErr) {
		return 2
	}
	return 1
}
