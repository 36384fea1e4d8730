// Binary kernsim boots a simulated multiprocessor running the kernel and
// runs user programs on it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/subcommands"
	"gopherjos/kernel/config"
)

var configPath = flag.String("config", "", "path to a TOML machine configuration. Defaults are used when empty.")

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(new(Run), "")
	subcommands.Register(new(Config), "")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	conf := config.Default()
	if *configPath != "" {
		var err error
		if conf, err = config.Load(*configPath); err != nil {
			fatalf("loading %s: %v", *configPath, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	status := subcommands.Execute(ctx, conf)
	stop()
	os.Exit(int(status))
}

// fatalf prints a message to stderr and exits.
func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "kernsim: "+format+"\n", args...)
	os.Exit(128)
}
