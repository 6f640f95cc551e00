// config loads warden's declarative configuration: a top-level log level
// plus one [[program]] entry per managed program, and applies the
// differential update that reloads are built on.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/davecgh/go-spew/spew"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wardend/warden/logging"
	"github.com/wardend/warden/program"
)

// Config is an ordered list of programs plus the runtime log level. The
// Filter handle persists across reloads; replacing a Config's programs
// never touches it.
type Config struct {
	LogLevel zapcore.Level
	Programs []*program.Program

	// Filter is the runtime log-level handle. Nil until the logger is
	// wired in.
	Filter *zap.AtomicLevel

	log *zap.Logger
}

// rawConfig is the decode target; program entries stay opaque so each can
// be decoded over a fully defaulted Spec.
type rawConfig struct {
	LogLevel string           `toml:"loglevel"`
	Program  []toml.Primitive `toml:"program"`
}

// Load reads and parses the configuration file at path. Program names are
// normalized, and missing or colliding names are replaced with generated
// ones. Any structural error, unknown level, or missing command fails the
// load as a whole.
func Load(path string, logger *zap.Logger) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("loading configuration file", zap.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration file: %w", err)
	}

	var raw rawConfig
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, fmt.Errorf("parsing configuration file: %w", err)
	}

	level := zapcore.InfoLevel
	if raw.LogLevel != "" {
		level, err = logging.ParseLevel(raw.LogLevel)
		if err != nil {
			return nil, err
		}
	}

	cfg := &Config{LogLevel: level, log: logger}
	taken := make(map[string]bool)
	for i, prim := range raw.Program {
		spec := program.DefaultSpec()
		if err := md.PrimitiveDecode(prim, &spec); err != nil {
			return nil, fmt.Errorf("program %d: %w", i, err)
		}
		if spec.Command == "" {
			return nil, fmt.Errorf("program %d: missing field `command`", i)
		}
		normalizeName(&spec, taken, logger)
		taken[spec.Name] = true
		cfg.Programs = append(cfg.Programs, program.New(spec, logger))
	}

	logger.Info("configuration file loaded",
		zap.String("path", path),
		zap.Int("programs", len(cfg.Programs)))
	if logger.Level().Enabled(logging.TraceLevel) {
		logger.Log(logging.TraceLevel, "loaded configuration",
			zap.String("dump", spew.Sdump(raw)))
	}
	return cfg, nil
}

// normalizeName trims the configured name, replaces internal whitespace
// with underscores, and generates a fresh two-word name when the result is
// empty or already taken.
func normalizeName(spec *program.Spec, taken map[string]bool, logger *zap.Logger) {
	spec.Name = strings.Trim(strings.Join(strings.Fields(spec.Name), "_"), "_")
	if spec.Name != "" && !taken[spec.Name] {
		return
	}
	generated := GenerateName()
	for taken[generated] {
		generated = GenerateName()
	}
	logger.Warn("renaming program",
		zap.String("command", spec.Command),
		zap.String("old", spec.Name),
		zap.String("new", generated))
	spec.Name = generated
}

// SetFilter attaches the runtime log-level handle and applies the
// configured level to it.
func (c *Config) SetFilter(filter *zap.AtomicLevel) {
	c.Filter = filter
	c.applyLevel()
}

// SetLevel changes the runtime log level, retuning the filter when one is
// attached.
func (c *Config) SetLevel(level zapcore.Level) {
	c.LogLevel = level
	c.applyLevel()
}

func (c *Config) applyLevel() {
	if c.Filter != nil {
		c.Filter.SetLevel(c.LogLevel)
	}
}

// Find returns the program with the given name, or nil.
func (c *Config) Find(name string) *program.Program {
	for _, p := range c.Programs {
		if p.Spec.Name == name {
			return p
		}
	}
	return nil
}

// Update merges a newly loaded configuration into the running one:
// programs missing from the new configuration are stopped and marked for
// pruning, existing programs get a differential spec update, and new
// programs are appended, starting immediately when their policy is auto.
// The log filter handle survives.
func (c *Config) Update(next *Config) {
	if c.LogLevel != next.LogLevel {
		c.SetLevel(next.LogLevel)
	}

	for _, existing := range c.Programs {
		if next.Find(existing.Spec.Name) == nil {
			existing.MarkRemoved()
			existing.Stop()
		}
	}

	for _, incoming := range next.Programs {
		if existing := c.Find(incoming.Spec.Name); existing != nil {
			existing.Update(incoming.Spec)
			continue
		}
		if incoming.Spec.StartPolicy == program.Auto {
			if err := incoming.Start(); err != nil {
				c.log.Error("starting program",
					zap.String("name", incoming.Spec.Name),
					zap.Error(err))
			}
		}
		c.Programs = append(c.Programs, incoming)
	}
}

// Prune drops removed programs whose children have all gone inactive.
func (c *Config) Prune() {
	kept := c.Programs[:0]
	for _, p := range c.Programs {
		if p.Removed() && p.AllInactive() {
			c.log.Info("program removed from configuration",
				zap.String("name", p.Spec.Name))
			continue
		}
		kept = append(kept, p)
	}
	c.Programs = kept
}
