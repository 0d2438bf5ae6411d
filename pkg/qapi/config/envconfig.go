package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/quatton/qmag/pkg/db"
	"github.com/quatton/qmag/pkg/qart"
)

type EnvConfig struct {
	Port        string `envconfig:"PORT" default:"3000"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// AuthSecret enables bearer JWT auth when set.
	AuthSecret string `envconfig:"AUTH_SECRET"`

	Runner       string `envconfig:"RUNNER" default:"local"`
	OOMMFCommand string `envconfig:"OOMMF_COMMAND" default:"oommf"`
	DockerImage  string `envconfig:"DOCKER_IMAGE" default:"oommf/oommf:latest"`
	K8sNamespace string `envconfig:"K8S_NAMESPACE"`
	K8sQueue     string `envconfig:"K8S_QUEUE"`
	WorkDir      string `envconfig:"WORK_DIR" default:"/tmp/qmag-runs"`

	ValkeyURL string        `envconfig:"VALKEY_URL"`
	RunTTL    time.Duration `envconfig:"RUN_TTL" default:"24h"`

	// HistoryEnabled turns on Postgres run history using the DB_* settings.
	HistoryEnabled bool      `envconfig:"HISTORY_ENABLED" default:"false"`
	DB             db.Config `envconfig:"DB"`

	S3 qart.S3Config `envconfig:"S3"`
}

// IsDev reports whether ENVIRONMENT names a development setup.
func IsDev() bool {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	return env == "development" || env == "dev" || env == ""
}

func ValidateEnv() (*EnvConfig, error) {
	if IsDev() {
		if err := godotenv.Load(); err != nil {
			log.Println("ℹ No .env file found")
		} else {
			log.Println("✓ Loaded .env file")
		}
	}

	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *EnvConfig) Validate() error {
	var errors []string

	if c.AuthSecret != "" && len(c.AuthSecret) < 32 {
		errors = append(errors, "  ❌ AUTH_SECRET must be at least 32 characters")
	}

	switch c.Runner {
	case "local", "docker", "k8s":
	default:
		errors = append(errors, fmt.Sprintf("  ❌ RUNNER must be local, docker or k8s, got %q", c.Runner))
	}

	if strings.TrimSpace(c.OOMMFCommand) == "" {
		errors = append(errors, "  ❌ OOMMF_COMMAND must not be empty")
	}

	if c.RunTTL < 0 {
		errors = append(errors, "  ❌ RUN_TTL must not be negative")
	}

	if len(errors) > 0 {
		return fmt.Errorf("environment validation failed:\n%s", strings.Join(errors, "\n"))
	}
	return nil
}

func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

func (c *EnvConfig) Print(fmtr func(string, ...interface{})) {
	fmtr("📋 Configuration:\n")
	fmtr("  Environment: %s\n", c.Environment)
	fmtr("  Port: %s\n", c.Port)
	fmtr("  Runner: %s\n", c.Runner)
	fmtr("  OOMMF Command: %s\n", c.OOMMFCommand)
	if c.Runner != "local" {
		fmtr("  Image: %s\n", c.DockerImage)
	}
	fmtr("  Work Dir: %s\n", c.WorkDir)
	fmtr("  Run TTL: %s\n", c.RunTTL)

	if c.AuthSecret != "" {
		fmtr("  Auth: ✓ Enabled (secret %s)\n", MaskSecret(c.AuthSecret))
	} else {
		fmtr("  Auth: ✗ Disabled\n")
	}

	if c.ValkeyURL != "" {
		fmtr("  Run State: valkey\n")
	} else {
		fmtr("  Run State: in-memory\n")
	}

	if c.HistoryEnabled {
		fmtr("  History: ✓ %s@%s:%d/%s (sslmode=%s)\n", c.DB.User, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
	} else {
		fmtr("  History: ✗ Disabled\n")
	}

	if c.S3.Enabled() {
		fmtr("  Artifacts: ✓ %s/%s\n", c.S3.Endpoint, c.S3.Bucket)
		fmtr("    Access Key: %s\n", MaskSecret(c.S3.AccessKey))
	} else {
		fmtr("  Artifacts: ✗ Disabled\n")
	}
}
