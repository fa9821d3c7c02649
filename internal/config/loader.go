package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "PLANNER"

// Config captures environment driven configuration values for the planner service.
type Config struct {
	HTTPPort        int
	SQLiteDSN       string
	WorkflowFile    string
	Location        *time.Location
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	DirectoryDSN       string
	DirectoryProcedure string
	DirectoryTimeout   time.Duration
	// StaticApprovers serves directory-backed steps when no DSN is set.
	StaticApprovers map[string][]string

	SendGridAPIKey string
	FromEmail      mail.Address
	AppName        string
	BaseURL        string
}

// Load reads configuration from the environment, after loading the optional
// dotenv file named by PLANNER_ENV_FILE (default ".env"). Variables already
// present in the environment win over the file.
func Load() (Config, error) {
	envFile := strings.TrimSpace(os.Getenv(EnvPrefix + "_ENV_FILE"))
	explicit := envFile != ""
	if !explicit {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	v.SetDefault("http_port", "8080")
	v.SetDefault("sqlite_dsn", "planner.db")
	v.SetDefault("timezone", "Australia/Melbourne")
	v.SetDefault("log_level", "info")
	v.SetDefault("shutdown_timeout", "10s")
	v.SetDefault("directory_procedure", "step_approvers")
	v.SetDefault("directory_timeout", "5s")
	v.SetDefault("app_name", "Activity Planner")

	cfg := Config{
		SQLiteDSN:          str(v, "sqlite_dsn"),
		WorkflowFile:       str(v, "workflow_file"),
		DirectoryDSN:       str(v, "directory_dsn"),
		DirectoryProcedure: str(v, "directory_procedure"),
		SendGridAPIKey:     str(v, "sendgrid_api_key"),
		AppName:            str(v, "app_name"),
		BaseURL:            strings.TrimRight(str(v, "base_url"), "/"),
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)
	name := func(key string) string { return EnvPrefix + "_" + strings.ToUpper(key) }

	if port, err := strconv.Atoi(str(v, "http_port")); err != nil || port <= 0 || port > 65535 {
		invalid = append(invalid, name("http_port"))
	} else {
		cfg.HTTPPort = port
	}

	if cfg.SQLiteDSN == "" {
		missing = append(missing, name("sqlite_dsn"))
	}

	if loc, err := time.LoadLocation(str(v, "timezone")); err != nil {
		invalid = append(invalid, name("timezone"))
	} else {
		cfg.Location = loc
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(str(v, "log_level"))); err != nil {
		invalid = append(invalid, name("log_level"))
	}

	if d, err := time.ParseDuration(str(v, "shutdown_timeout")); err != nil || d <= 0 {
		invalid = append(invalid, name("shutdown_timeout"))
	} else {
		cfg.ShutdownTimeout = d
	}

	if d, err := time.ParseDuration(str(v, "directory_timeout")); err != nil || d <= 0 {
		invalid = append(invalid, name("directory_timeout"))
	} else {
		cfg.DirectoryTimeout = d
	}

	if static := str(v, "static_approvers"); static != "" {
		approvers, err := ParseStaticApprovers(static)
		if err != nil {
			invalid = append(invalid, name("static_approvers"))
		} else {
			cfg.StaticApprovers = approvers
		}
	}

	if from := str(v, "from_email"); from != "" {
		addr, err := mail.ParseAddress(from)
		if err != nil {
			invalid = append(invalid, name("from_email"))
		} else {
			cfg.FromEmail = *addr
		}
	} else if cfg.SendGridAPIKey != "" {
		missing = append(missing, name("from_email"))
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("environment variables have invalid values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

// ParseStaticApprovers reads "step=user1,user2;step2=user3".
func ParseStaticApprovers(value string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, entry := range strings.Split(value, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		step, users, ok := strings.Cut(entry, "=")
		step = strings.TrimSpace(step)
		if !ok || step == "" {
			return nil, fmt.Errorf("malformed entry %q", entry)
		}
		for _, u := range strings.Split(users, ",") {
			if u = strings.TrimSpace(u); u != "" {
				out[step] = append(out[step], u)
			}
		}
	}
	return out, nil
}

func str(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}
