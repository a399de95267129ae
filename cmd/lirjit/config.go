package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/tinyrange/lirjit/internal/execmem"
	"github.com/tinyrange/lirjit/lir"
)

// Config is the optional YAML file given with -config.
type Config struct {
	// Arch is the default target, "host" or empty for the running machine.
	Arch string `yaml:"arch"`
	// Mode is the executable memory protection: rwx, dual or wx.
	Mode string `yaml:"mode"`
	// ExecChunk is the size of each executable mapping.
	ExecChunk Size `yaml:"exec_chunk"`
	// StackMax bounds the region handed to the "fill" program.
	StackMax Size `yaml:"stack_max"`
	// MaxCode rejects functions larger than this.
	MaxCode    Size `yaml:"max_code"`
	SkipChecks bool `yaml:"skip_checks"`
}

// Size is a byte count written with units, such as "256KiB" or "1MiB".
type Size int64

// UnmarshalYAML implements yaml.Unmarshaler for Size.
func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}
	if str == "" {
		return nil
	}
	n, err := units.RAMInBytes(str)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", str, err)
	}
	if n < 0 {
		return fmt.Errorf("invalid size %q: negative", str)
	}
	*s = Size(n)
	return nil
}

func (s Size) String() string { return units.BytesSize(float64(s)) }

func defaultConfig() *Config {
	return &Config{
		Arch:      "host",
		Mode:      "",
		ExecChunk: Size(execmem.DefaultChunkSize),
		StackMax:  Size(1 << 20),
	}
}

// LoadConfig reads path over the defaults. An empty path returns the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.ExecChunk == 0 {
		cfg.ExecChunk = Size(execmem.DefaultChunkSize)
	}
	if cfg.StackMax == 0 {
		cfg.StackMax = Size(1 << 20)
	}
	return cfg, nil
}

// target resolves the architecture, letting a non-empty flag win.
func (c *Config) target(flagArch string) (lir.Arch, error) {
	name := c.Arch
	if flagArch != "" {
		name = flagArch
	}
	if name == "" || name == "host" {
		return lir.HostArch(), nil
	}
	return lir.ParseArch(name)
}

// allocator builds the executable memory allocator the config names.
func (c *Config) allocator(log *slog.Logger) (*execmem.Allocator, error) {
	if c.Mode == "" && c.ExecChunk == Size(execmem.DefaultChunkSize) {
		return execmem.Default(), nil
	}
	mode := execmem.Default().Mode()
	if c.Mode != "" {
		var err error
		if mode, err = execmem.ParseMode(c.Mode); err != nil {
			return nil, err
		}
	}
	return execmem.New(execmem.Options{Mode: mode, ChunkSize: int(c.ExecChunk), Logger: log}), nil
}

// options builds compiler options. listing, when set, receives the
// verbose LIR listing.
func (c *Config) options(log *slog.Logger, alloc *execmem.Allocator, listing io.Writer) lir.Options {
	return lir.Options{
		Logger:      log,
		Verbose:     listing,
		Allocator:   alloc,
		SkipChecks:  c.SkipChecks,
		MaxCodeSize: int(c.MaxCode),
	}
}
