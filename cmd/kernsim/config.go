package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"gopherjos/kernel/config"
)

// Config implements subcommands.Command for the "config" command.
type Config struct{}

// Name implements subcommands.Command.Name.
func (*Config) Name() string {
	return "config"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Config) Synopsis() string {
	return "Print the effective machine configuration."
}

// Usage implements subcommands.Command.Usage.
func (*Config) Usage() string {
	return `config - Print the effective machine configuration as TOML.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Config) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Config) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	conf := args[0].(*config.Config)
	if err := conf.Encode(os.Stdout); err != nil {
		fatalf("encoding config: %v", err)
	}
	return subcommands.ExitSuccess
}
