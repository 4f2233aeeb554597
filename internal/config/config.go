// Package config loads the agentbox configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mateo/agentbox/internal/executor"
	"github.com/mateo/agentbox/internal/logger"
)

// HomeEnv overrides the base directory.
const HomeEnv = "AGENTBOX_HOME"

type Config struct {
	VM       VMConfig             `yaml:"vm"`
	Agents   AgentsConfig         `yaml:"agents"`
	Timeouts TimeoutsConfig       `yaml:"timeouts"`
	Logging  logger.LoggingConfig `yaml:"logging"`
}

type VMConfig struct {
	Base      string `yaml:"base"`
	CPUs      int    `yaml:"cpus"`
	MemoryGiB int    `yaml:"memoryGiB"`
	DiskGiB   int    `yaml:"diskGiB"`
	// Capabilities are extra tags advertised by every session VM.
	Capabilities []string `yaml:"capabilities,omitempty"`
	Packages     []string `yaml:"packages"`
}

type AgentsConfig struct {
	UserDir    string `yaml:"userDir"`
	BuiltinDir string `yaml:"builtinDir"`
}

type TimeoutsConfig struct {
	Install        time.Duration `yaml:"install"`
	Authenticate   time.Duration `yaml:"authenticate"`
	Deploy         time.Duration `yaml:"deploy"`
	RuntimeScripts time.Duration `yaml:"runtimeScripts"`
	TerminateGrace time.Duration `yaml:"terminateGrace"`
}

// Executor converts the section into executor deadlines.
func (t TimeoutsConfig) Executor() executor.Timeouts {
	return executor.Timeouts{
		Install:        t.Install,
		Authenticate:   t.Authenticate,
		Deploy:         t.Deploy,
		RuntimeScripts: t.RuntimeScripts,
	}
}

func Default() Config {
	d := executor.DefaultTimeouts()
	return Config{
		VM: VMConfig{
			Base:      "agentbox-base",
			CPUs:      2,
			MemoryGiB: 4,
			DiskGiB:   30,
			Packages:  []string{"ca-certificates", "curl", "git", "unzip"},
		},
		Agents: AgentsConfig{
			UserDir:    filepath.Join(BaseDir(), "agents"),
			BuiltinDir: filepath.Join(BaseDir(), "builtin"),
		},
		Timeouts: TimeoutsConfig{
			Install:        d.Install,
			Authenticate:   d.Authenticate,
			Deploy:         d.Deploy,
			RuntimeScripts: d.RuntimeScripts,
			TerminateGrace: executor.DefaultTerminateGrace,
		},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".agentbox")
}

func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.yaml")
}

// TemplatePath is where the base instance template is rendered.
func TemplatePath() string {
	return filepath.Join(BaseDir(), "lima", "base.yaml")
}

func Load() (Config, error) {
	return LoadFile(ConfigPath())
}

// LoadFile reads path over Default. A missing file yields the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Agents.UserDir = expandHome(cfg.Agents.UserDir)
	cfg.Agents.BuiltinDir = expandHome(cfg.Agents.BuiltinDir)
	return cfg, nil
}

func expandHome(p string) string {
	if p == "~" || len(p) > 1 && p[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, p[1:])
	}
	return p
}

func Save(cfg Config) error {
	if err := os.MkdirAll(BaseDir(), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(ConfigPath(), data, 0o644)
}

func EnsureDirs(cfg Config) error {
	dirs := []string{
		BaseDir(),
		cfg.Agents.UserDir,
		cfg.Agents.BuiltinDir,
		filepath.Dir(TemplatePath()),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return nil
}
