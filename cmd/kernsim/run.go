package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/subcommands"
	"gopherjos/kernel/config"
	"gopherjos/kernel/kmain"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	cpus    int
	quantum int
	screen  bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "Boot a machine and run a scenario on it."
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("run [flags] <scenario> - Boot a machine and run a scenario on it.\n\nScenarios:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %-10s %s\n", name, scenarios[name].descr)
	}
	b.WriteString("\n")
	return b.String()
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.IntVar(&r.cpus, "cpus", 0, "number of CPUs to boot. Overrides the configuration when set.")
	f.IntVar(&r.quantum, "quantum", -1, "timer quantum in user instructions, 0 disables the timer. Overrides the configuration when not negative.")
	f.BoolVar(&r.screen, "screen", false, "print the final contents of the text-mode screen to stderr.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	sc, ok := scenarios[f.Arg(0)]
	if !ok {
		fmt.Printf("unknown scenario %q\n", f.Arg(0))
		f.Usage()
		return subcommands.ExitUsageError
	}

	conf := *args[0].(*config.Config)
	if r.cpus > 0 {
		conf.CPUs = r.cpus
	}
	if r.quantum >= 0 {
		conf.TimerQuantum = r.quantum
	}

	m, err := kmain.NewMachine(&conf)
	if err != nil {
		fatalf("booting machine: %v", err)
	}

	for _, prog := range sc.programs {
		if _, err := m.Spawn(prog.name, prog.umain); err != nil {
			fatalf("spawning %s: %v", prog.name, err)
		}
	}

	err = m.Run(ctx)
	if r.screen {
		fmt.Fprintf(os.Stderr, "%s\n", m.Screen())
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return subcommands.ExitFailure
		}
		fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}
