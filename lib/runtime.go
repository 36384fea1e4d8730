package lib

import (
	"fmt"
	"sync"

	"gopherjos/kernel/cpu"
	"gopherjos/kernel/env"
	"gopherjos/kernel/gate"
	"gopherjos/kernel/mm"
)

// entry is what an environment executes when its thread first runs.
type entry struct {
	name    string
	main    func(p *Process)
	handler PgfaultHandler
}

// Runtime is the program loader. It records the code that each environment
// runs and starts it on the environment's thread. One Runtime is shared by
// every environment of a machine.
type Runtime struct {
	envs env.View

	mu      sync.Mutex
	entries map[env.ID]entry
}

// NewRuntime returns a runtime whose processes see the environment table
// through envs.
func NewRuntime(envs env.View) *Runtime {
	return &Runtime{
		envs:    envs,
		entries: make(map[env.ID]entry),
	}
}

// Register loads program umain into environment id. When the environment
// first runs, umain is called after the usual process setup and the process
// exits when umain returns.
func (rt *Runtime) Register(id env.ID, name string, umain func(p *Process)) {
	rt.register(id, entry{
		name: name,
		main: func(p *Process) {
			// thisenv = &envs[ENVX(sys_getenvid())]
			p.id = p.Getenvid()
			umain(p)
		},
	})
}

func (rt *Runtime) register(id env.ID, ent entry) {
	rt.mu.Lock()
	rt.entries[id] = ent
	rt.mu.Unlock()
}

// Run executes environment id on its thread, which has just been handed CPU
// c and the initial frame tf. Run never returns: the process ends by
// destroying its environment. An environment without a program faults on
// its first instruction.
func (rt *Runtime) Run(id env.ID, c *cpu.CPU, tf gate.TrapFrame) {
	rt.mu.Lock()
	ent, ok := rt.entries[id]
	delete(rt.entries, id)
	rt.mu.Unlock()

	p := &Process{
		rt:      rt,
		c:       c,
		tf:      tf,
		id:      id,
		name:    ent.name,
		handler: ent.handler,
	}

	if !ok {
		p.invalidOpcode()
		return
	}

	ent.main(p)
	p.Exit()
}

// Exit destroys the calling environment.
func (p *Process) Exit() {
	_ = p.EnvDestroy(0)
}

// Cprintf formats a message in a buffer on the user stack and prints it on
// the console with sys_cputs.
func (p *Process) Cprintf(format string, args ...interface{}) {
	msg := []byte(fmt.Sprintf(format, args...))
	if len(msg) == 0 {
		return
	}

	size := mm.RoundUp(uint32(len(msg)), 4)
	p.tf.ESP -= size
	p.WriteBytes(p.tf.ESP, msg)
	p.Cputs(p.tf.ESP, len(msg))
	p.tf.ESP += size
}

// Panicf prints a user panic message and destroys the calling environment.
// It never returns.
func (p *Process) Panicf(format string, args ...interface{}) {
	p.Cprintf("[%08x] user panic in %s at %08x: %s\n", uint32(p.id), p.name, p.tf.EIP, fmt.Sprintf(format, args...))
	p.Exit()
}
