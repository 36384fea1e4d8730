package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"gopherjos/kernel/config"
	"gopherjos/kernel/kfmt"
	"gopherjos/kernel/kmain"
)

func runScenario(t *testing.T, name string) string {
	t.Helper()

	conf := config.Default()
	conf.CPUs = 1
	conf.Frames = 512
	conf.MaxEnvs = 16
	conf.TimerQuantum = 0

	var out bytes.Buffer
	m, err := kmain.NewMachine(conf, kmain.WithConsoleOutput(&out))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kfmt.SetOutputSink(nil) })
	out.Reset()

	for _, prog := range scenarios[name].programs {
		if _, err := m.Spawn(prog.name, prog.umain); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatal(err)
	}
	return out.String()
}

func TestScenarios(t *testing.T) {
	specs := []struct {
		name string
		exp  []string
		// absent lists output that must not appear.
		absent []string
	}{
		{
			"hello",
			[]string{"hello, world\ni am environment 00001000\n"},
			nil,
		},
		{
			"nested",
			[]string{
				"fault deadbeef\n" +
					"this string was faulted in at deadbeef\n" +
					"fault cafebffe\n" +
					"fault cafec000\n" +
					"this string was faulted in at cafebffe\n" +
					"[00001000] exiting gracefully\n",
			},
			[]string{"user panic"},
		},
		{
			"nohandler",
			[]string{
				"nohandler: page 0a000000 ",
				"[00001000] user fault va 0a000000 ip ",
				"[00001000] free env 00001000\n",
			},
			[]string{"user panic", "exiting gracefully"},
		},
		{
			"cow",
			[]string{
				"parent: page 0a000000 ",
				"child: page 0a000000 ",
				"flags 805 value 0000aaaa\n",
				"flags 007 value 0000bbbb\n",
				"flags 007 value 0000cccc\n",
			},
			[]string{"user panic"},
		},
		{
			"forktree",
			[]string{"1000: I am ''\n", "I am '0'\n", "I am '111'\n"},
			[]string{"user panic"},
		},
	}

	for specIndex, spec := range specs {
		out := runScenario(t, spec.name)
		for _, exp := range spec.exp {
			if !strings.Contains(out, exp) {
				t.Errorf("[spec %d] %s: expected output to contain %q; got:\n%s", specIndex, spec.name, exp, out)
			}
		}
		for _, unexp := range spec.absent {
			if strings.Contains(out, unexp) {
				t.Errorf("[spec %d] %s: expected output not to contain %q; got:\n%s", specIndex, spec.name, unexp, out)
			}
		}
	}
}

func TestRunUsageListsScenarios(t *testing.T) {
	usage := new(Run).Usage()
	for name := range scenarios {
		if !strings.Contains(usage, "  "+name+" ") {
			t.Errorf("expected usage to list scenario %q; got:\n%s", name, usage)
		}
	}
}
