package qsdk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quatton/qmag/pkg/db"
	"github.com/quatton/qmag/pkg/qart"
	"github.com/quatton/qmag/pkg/qrunner"
	"github.com/spf13/viper"
)

// Config is the CLI's view of qmag.yaml, .qmag/config.yaml and QMAG_*
// environment variables.
type Config struct {
	Runner  string            `mapstructure:"runner"` // auto, local, docker, remote or k8s
	Timeout time.Duration     `mapstructure:"timeout"`
	BaseDir string            `mapstructure:"baseDir"`
	Env     map[string]string `mapstructure:"env"`

	OOMMF     OOMMFConfig   `mapstructure:"oommf"`
	Docker    DockerConfig  `mapstructure:"docker"`
	Remote    RemoteConfig  `mapstructure:"remote"`
	K8s       K8sConfig     `mapstructure:"k8s"`
	Artifacts qart.S3Config `mapstructure:"artifacts"`
	DB        db.Config     `mapstructure:"db"`

	v *viper.Viper // instance-specific viper
}

type OOMMFConfig struct {
	// Command is split on whitespace, e.g. "tclsh /opt/oommf/oommf.tcl"
	Command string `mapstructure:"command"`
}

type DockerConfig struct {
	Image       string          `mapstructure:"image"`
	Command     string          `mapstructure:"command"`
	Network     string          `mapstructure:"network"`
	User        string          `mapstructure:"user"`
	CPULimit    string          `mapstructure:"cpuLimit"`
	MemoryLimit string          `mapstructure:"memoryLimit"`
	Mounts      []qrunner.Mount `mapstructure:"mounts"`
}

type RemoteConfig struct {
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Retries int    `mapstructure:"retries"`
}

type K8sConfig struct {
	Kubeconfig string `mapstructure:"kubeconfig"`
	Namespace  string `mapstructure:"namespace"`
	Image      string `mapstructure:"image"`
	Queue      string `mapstructure:"queue"`
}

const (
	EnvPrefix  = "QMAG"
	ConfigName = "qmag"
	ConfigRoot = ".qmag"

	RunnerKey    = "runner"
	TimeoutKey   = "timeout"
	RemoteURLKey = "remote.url"
)

// LoadConfig creates a new Config instance with its own viper
// This is the only way to load config (no global state)
func LoadConfig(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	} else {
		// Load project config (TRACKED) - qmag.yaml in current directory
		for _, name := range []string{"qmag.yaml", "qmag.yml", ".qmag.yaml"} {
			if _, err := os.Stat(name); err == nil {
				v.SetConfigFile(name)
				if err := v.ReadInConfig(); err == nil {
					break
				}
			}
		}

		// Merge local overrides (UNTRACKED) - .qmag/config.yaml
		localConfigPath := filepath.Join(ConfigRoot, "config.yaml")
		if _, err := os.Stat(localConfigPath); err == nil {
			v.SetConfigFile(localConfigPath)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("merging local config: %w", err)
			}
		}
	}

	setDefaults(v)

	cfg := &Config{v: v}
	if err := cfg.reload(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// reload re-reads the struct from viper, e.g. after flags were bound.
func (c *Config) reload() error {
	v := c.v
	*c = Config{v: v}
	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	c.Remote.URL = strings.TrimRight(c.Remote.URL, "/")
	return nil
}

// Refresh re-reads the config after flags were bound to the viper instance.
func (c *Config) Refresh() error {
	if c.v == nil {
		return nil
	}
	return c.reload()
}

// Every key gets a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault(RunnerKey, "auto")
	v.SetDefault(TimeoutKey, 0)
	v.SetDefault("baseDir", ".qmag/runs")
	v.SetDefault("oommf.command", strings.Join(qrunner.DefaultOOMMFCommand, " "))
	v.SetDefault("docker.image", qrunner.DefaultImage)
	v.SetDefault("docker.command", strings.Join(qrunner.DefaultOOMMFCommand, " "))
	v.SetDefault("docker.network", "none")
	v.SetDefault("docker.user", "")
	v.SetDefault("docker.cpuLimit", "")
	v.SetDefault("docker.memoryLimit", "")
	v.SetDefault(RemoteURLKey, "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.retries", 4)
	v.SetDefault("k8s.kubeconfig", "")
	v.SetDefault("k8s.namespace", "")
	v.SetDefault("k8s.image", "")
	v.SetDefault("k8s.queue", "")
	v.SetDefault("artifacts.endpoint", "")
	v.SetDefault("artifacts.accessKey", "")
	v.SetDefault("artifacts.secretKey", "")
	v.SetDefault("artifacts.bucket", "")
	v.SetDefault("artifacts.region", "")
	v.SetDefault("artifacts.useSSL", false)
	v.SetDefault("db.url", "")
}

// Get returns a value from the underlying viper instance
func (c *Config) Get(key string) interface{} {
	if c.v == nil {
		return nil
	}
	return c.v.Get(key)
}

// GetString returns a string value from the underlying viper instance
func (c *Config) GetString(key string) string {
	if c.v == nil {
		return ""
	}
	return c.v.GetString(key)
}

// Viper returns the underlying viper instance
func (c *Config) Viper() *viper.Viper {
	return c.v
}

// ConfigFileUsed returns the config file that was used (if any)
func (c *Config) ConfigFileUsed() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}

// ResolveBaseDir anchors a relative baseDir at the directory holding the
// config file, or the working directory when no file was used.
func (c *Config) ResolveBaseDir() (string, error) {
	if filepath.IsAbs(c.BaseDir) {
		return c.BaseDir, nil
	}

	anchor, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	if used := c.ConfigFileUsed(); used != "" {
		abs, err := filepath.Abs(used)
		if err != nil {
			return "", fmt.Errorf("resolving config path: %w", err)
		}
		anchor = filepath.Dir(abs)
		if filepath.Base(anchor) == ConfigRoot {
			anchor = filepath.Dir(anchor)
		}
	}
	return filepath.Join(anchor, c.BaseDir), nil
}
