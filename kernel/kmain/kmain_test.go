package kmain

import (
	"bytes"
	"context"
	"errors"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"gopherjos/kernel"
	"gopherjos/kernel/config"
	"gopherjos/kernel/kfmt"
	"gopherjos/kernel/mm"
	"gopherjos/lib"
)

func testConfig(cpus, quantum int) *config.Config {
	cfg := config.Default()
	cfg.CPUs = cpus
	cfg.Frames = 256
	cfg.MaxEnvs = 16
	cfg.TimerQuantum = quantum
	return cfg
}

func newTestMachine(t *testing.T, cfg *config.Config, opts ...Option) (*Machine, *bytes.Buffer) {
	t.Helper()

	var out bytes.Buffer
	m, err := NewMachine(cfg, append([]Option{WithConsoleOutput(&out)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kfmt.SetOutputSink(nil) })

	// Drop whatever earlier machines left in the console ring.
	out.Reset()
	return m, &out
}

func runMachine(t *testing.T, m *Machine) error {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	err := m.Run(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("timed out waiting for the machine to shut down")
	}
	return err
}

func spawn(t *testing.T, m *Machine, name string, umain func(p *lib.Process)) {
	t.Helper()

	if _, err := m.Spawn(name, umain); err != nil {
		t.Fatal(err)
	}
}

func TestNewMachineInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.CPUs = 0

	if _, err := NewMachine(cfg); err == nil {
		t.Fatal("expected an error for a machine without CPUs")
	}
}

func TestHello(t *testing.T) {
	m, out := newTestMachine(t, testConfig(1, 64))
	freeAtBoot := m.Memory().FreeCount()

	var spawnErr error
	spawn(t, m, "hello", func(p *lib.Process) {
		p.Cprintf("hello, world\n")
		p.Cprintf("i am environment %08x\n", uint32(p.ID()))

		_, spawnErr = m.Spawn("late", func(*lib.Process) {})
	})

	if err := runMachine(t, m); err != nil {
		t.Fatal(err)
	}

	exp := "[00000000] new env 00001000\n" +
		"hello, world\n" +
		"i am environment 00001000\n" +
		"[00001000] exiting gracefully\n" +
		"[00001000] free env 00001000\n" +
		"No runnable environments in the system!\n"
	if got := out.String(); !strings.Contains(got, exp) {
		t.Fatalf("expected output to contain:\n%s\ngot:\n%s", exp, got)
	}

	if screen := m.Screen().String(); !strings.Contains(screen, "hello, world\ni am environment 00001000\n") {
		t.Errorf("expected the screen to show the program output; got:\n%s", screen)
	}

	if spawnErr != errMachineRunning {
		t.Fatalf("expected spawning on a running machine to fail with %v; got %v", errMachineRunning, spawnErr)
	}

	if err := m.Run(context.Background()); err != errMachineRunning {
		t.Fatalf("expected a second Run to fail with %v; got %v", errMachineRunning, err)
	}

	// Every page of the environment was released.
	if got, exp := m.Memory().FreeCount(), freeAtBoot; got != exp {
		t.Fatalf("expected %d free frames; got %d", exp, got)
	}
}

func TestRunCancel(t *testing.T) {
	m, _ := newTestMachine(t, testConfig(1, 0))

	started := make(chan struct{})
	var once gosync.Once
	spawn(t, m, "spinner", func(p *lib.Process) {
		for {
			once.Do(func() { close(started) })
			p.Yield()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected Run to return %v; got %v", context.Canceled, err)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("timed out waiting for the machine to stop")
	}
}

func TestPanicInEnvironment(t *testing.T) {
	m, out := newTestMachine(t, testConfig(1, 0))

	spawn(t, m, "broken", func(p *lib.Process) {
		panic("boom")
	})

	err := runMachine(t, m)
	kerr, ok := err.(*kernel.Error)
	if !ok || kerr.Message != "boom" {
		t.Fatalf("expected a kernel error with message boom; got %v", err)
	}

	if exp := "[rt] unrecoverable error: boom\n*** kernel panic: system halted ***"; !strings.Contains(out.String(), exp) {
		t.Fatalf("expected panic banner in output; got:\n%s", out.String())
	}

	if !m.lock.Poisoned() {
		t.Fatal("expected the kernel lock to be poisoned")
	}
}

func TestEnvironmentWithoutProgram(t *testing.T) {
	m, out := newTestMachine(t, testConfig(1, 0))

	if _, err := m.Envs().Alloc(0, "ghost"); err != nil {
		t.Fatal(err)
	}

	if err := runMachine(t, m); err != nil {
		t.Fatal(err)
	}

	for _, exp := range []string{
		"  trap 0x00000006 Invalid Opcode\n",
		"  eip  0x00000000\n",
		"[00001000] free env 00001000\n",
	} {
		if !strings.Contains(out.String(), exp) {
			t.Errorf("expected output to contain %q; got:\n%s", exp, out.String())
		}
	}
}

func TestConsoleInput(t *testing.T) {
	m, _ := newTestMachine(t, testConfig(1, 0), WithConsoleInput(strings.NewReader("echo")))

	var got []byte
	spawn(t, m, "reader", func(p *lib.Process) {
		for {
			ch := p.Cgetc()
			if ch == 0 {
				return
			}
			got = append(got, byte(ch))
		}
	})

	if err := runMachine(t, m); err != nil {
		t.Fatal(err)
	}

	if string(got) != "echo" {
		t.Fatalf("expected to read %q; got %q", "echo", got)
	}
}

func TestBreakpointEntersMonitor(t *testing.T) {
	m, out := newTestMachine(t, testConfig(1, 0), WithMonitorInput(strings.NewReader("kerninfo\ncontinue\n")))

	spawn(t, m, "brk", func(p *lib.Process) {
		p.Breakpoint()
		p.Cprintf("back from monitor\n")
	})

	if err := runMachine(t, m); err != nil {
		t.Fatal(err)
	}

	got := out.String()
	for _, exp := range []string{
		"Welcome to the JOS kernel monitor!\n",
		"  trap 0x00000003 Breakpoint\n",
		"K> Kernel stack of CPU 0:\n",
		"K> back from monitor\n",
	} {
		if !strings.Contains(got, exp) {
			t.Errorf("expected output to contain %q; got:\n%s", exp, got)
		}
	}
}

func TestTimerPreemption(t *testing.T) {
	m, _ := newTestMachine(t, testConfig(1, 8))

	var (
		mu    gosync.Mutex
		trace []string
	)
	worker := func(name string) func(p *lib.Process) {
		return func(p *lib.Process) {
			for i := uint32(0); i < 64; i++ {
				p.StoreWord(mm.UStackTop-4, i)
				mu.Lock()
				if len(trace) == 0 || trace[len(trace)-1] != name {
					trace = append(trace, name)
				}
				mu.Unlock()
			}
		}
	}
	spawn(t, m, "a", worker("a"))
	spawn(t, m, "b", worker("b"))

	if err := runMachine(t, m); err != nil {
		t.Fatal(err)
	}

	// Neither worker ever yields so they only alternate when the timer
	// fires.
	if len(trace) < 4 {
		t.Fatalf("expected the workers to be interleaved by the timer; got %v", trace)
	}
}

func TestTwoCPUs(t *testing.T) {
	m, _ := newTestMachine(t, testConfig(2, 16))

	var (
		mu     gosync.Mutex
		rounds int
	)
	worker := func(p *lib.Process) {
		for i := 0; i < 8; i++ {
			mu.Lock()
			rounds++
			mu.Unlock()
			p.Yield()
		}
	}
	for _, name := range []string{"a", "b", "c"} {
		spawn(t, m, name, worker)
	}

	if err := runMachine(t, m); err != nil {
		t.Fatal(err)
	}

	if rounds != 24 {
		t.Fatalf("expected every worker to complete 8 rounds; got %d rounds in total", rounds)
	}
}
