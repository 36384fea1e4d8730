// Package config describes the simulated machine: how many CPUs it boots,
// how much physical memory it has and how the console and trace are set up.
package config

import (
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"gopherjos/kernel"
)

// Config is the configuration of a simulated machine.
type Config struct {
	// CPUs is the number of processors booted by the machine.
	CPUs int `toml:"cpus"`

	// Frames is the number of 4 KiB physical frames.
	Frames int `toml:"frames"`

	// MaxEnvs is the size of the environment table. It must be a power
	// of two no larger than 1<<LOG2NENV.
	MaxEnvs int `toml:"max_envs"`

	// TimerQuantum is the number of user instructions a CPU executes
	// before its timer raises an interrupt. Zero disables the timer.
	TimerQuantum int `toml:"timer_quantum"`

	// LogLevel is the kernel trace level (logrus level names).
	LogLevel string `toml:"log_level"`

	// Console selects where kernel console output goes: "stdout",
	// "stderr" or "discard".
	Console string `toml:"console"`
}

const maxEnvsLimit = 1 << 10

var (
	errInvalidCPUs    = &kernel.Error{Module: "config", Message: "cpus must be at least 1"}
	errInvalidFrames  = &kernel.Error{Module: "config", Message: "frames must be at least 64"}
	errInvalidMaxEnvs = &kernel.Error{Module: "config", Message: "max_envs must be a power of two no larger than 1024"}
	errInvalidQuantum = &kernel.Error{Module: "config", Message: "timer_quantum must not be negative"}
	errInvalidConsole = &kernel.Error{Module: "config", Message: "console must be one of stdout, stderr or discard"}
)

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		CPUs:         2,
		Frames:       1024,
		MaxEnvs:      1024,
		TimerQuantum: 64,
		LogLevel:     "warning",
		Console:      "stdout",
	}
}

// Load decodes the TOML file at path over the defaults and validates the
// result.
func Load(path string) (*Config, error) {
	c := Default()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that the configuration describes a machine that can boot.
func (c *Config) Validate() error {
	switch {
	case c.CPUs < 1:
		return errInvalidCPUs
	case c.Frames < 64:
		return errInvalidFrames
	case c.MaxEnvs < 1 || c.MaxEnvs > maxEnvsLimit || c.MaxEnvs&(c.MaxEnvs-1) != 0:
		return errInvalidMaxEnvs
	case c.TimerQuantum < 0:
		return errInvalidQuantum
	}

	if _, err := c.ConsoleWriter(); err != nil {
		return err
	}
	return nil
}

// ConsoleWriter returns the writer selected by the Console field.
func (c *Config) ConsoleWriter() (io.Writer, error) {
	switch c.Console {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "discard":
		return io.Discard, nil
	default:
		return nil, errInvalidConsole
	}
}

// Encode writes c as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
