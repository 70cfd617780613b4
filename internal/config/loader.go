package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// DefaultFile is the configuration file looked up when none is given.
const DefaultFile = "pgsafe.yml"

// Config represents the top-level YAML configuration file.
type Config struct {
	Include     []string            `mapstructure:"include"     yaml:"include,omitempty"`
	OutputDir   string              `mapstructure:"output_dir"  yaml:"output_dir"`
	LogDir      string              `mapstructure:"log_dir"     yaml:"log_dir,omitempty"`
	Parallelism int                 `mapstructure:"parallelism" yaml:"parallelism"`
	DryRun      bool                `mapstructure:"dry_run"     yaml:"dry_run"`
	Backup      BackupConfig        `mapstructure:"backup"      yaml:"backup"`
	Tools       ToolsConfig         `mapstructure:"tools"       yaml:"tools"`
	Logging     LoggingConfig       `mapstructure:"logging"     yaml:"logging"`
	Vault       VaultConfig         `mapstructure:"vault"       yaml:"vault"`
	Instances   map[string]Instance `mapstructure:"instances"   yaml:"instances"`
}

// BackupConfig contains global backup options.
type BackupConfig struct {
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// ToolsConfig points at the PostgreSQL client binaries.
type ToolsConfig struct {
	PgDump    string `mapstructure:"pg_dump"    yaml:"pg_dump"`
	PgRestore string `mapstructure:"pg_restore" yaml:"pg_restore"`
	// Timeout bounds a single tool invocation. Zero means no timeout.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// LoggingConfig configures the application logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"       yaml:"level"`
	Format     string `mapstructure:"format"      yaml:"format"`
	File       string `mapstructure:"file"        yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups,omitempty"`
}

// VaultConfig holds connection settings for HashiCorp Vault.
type VaultConfig struct {
	Address     string `mapstructure:"address"      yaml:"address"`
	RoleID      string `mapstructure:"role_id"      yaml:"role_id,omitempty"`
	ApproleName string `mapstructure:"approle_name" yaml:"approle_name,omitempty"`
}

// Instance is one PostgreSQL server.
type Instance struct {
	Host            string `mapstructure:"host"             yaml:"host"`
	Port            int    `mapstructure:"port"             yaml:"port"`
	Username        string `mapstructure:"username"         yaml:"username"`
	Password        string `mapstructure:"password"         yaml:"password"`
	SSLMode         string `mapstructure:"ssl_mode"         yaml:"ssl_mode,omitempty"`
	RootCertificate string `mapstructure:"root_certificate" yaml:"root_certificate,omitempty"`
	// VaultPath names a dynamic credentials endpoint; it overrides Username/Password.
	VaultPath  string                    `mapstructure:"vault_path"  yaml:"vault_path,omitempty"`
	AutoDetect bool                      `mapstructure:"auto_detect" yaml:"auto_detect"`
	Databases  map[string]DatabaseConfig `mapstructure:"databases"   yaml:"databases"`
}

// DatabaseConfig holds per-database options.
type DatabaseConfig struct {
	Backup DatabaseBackup `mapstructure:"backup" yaml:"backup"`
}

// DatabaseBackup controls whether a database takes part in "backup all".
// A missing enabled key means enabled.
type DatabaseBackup struct {
	Enabled *bool `mapstructure:"enabled" yaml:"enabled,omitempty"`
}

// IsEnabled reports whether backups are enabled for the database.
func (b DatabaseBackup) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output_dir", "./backups")
	v.SetDefault("parallelism", 1)
	v.SetDefault("tools.pg_dump", "pg_dump")
	v.SetDefault("tools.pg_restore", "pg_restore")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load reads the configuration from the given YAML file using Viper,
// merges any included files, and unmarshals into the Config struct.
// Credentials written as ${NAME} are resolved from the environment.
func (c *Config) Load(path string) error {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PGSAFE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read base configuration
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read base config %s: %v", ErrLoadConfig, path, err)
	}

	// Merge include files (if any), relative to the base file
	for _, inc := range v.GetStringSlice("include") {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		data, err := os.ReadFile(inc)
		if err != nil {
			return fmt.Errorf("%w: read include %s: %v", ErrLoadConfig, inc, err)
		}
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%w: merge include %s: %v", ErrLoadConfig, inc, err)
		}
	}

	// Unmarshal into the Config struct
	if err := v.UnmarshalExact(c); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}

	for name, inst := range c.Instances {
		if inst.Port == 0 {
			inst.Port = 5432
		}
		if inst.Host == "" {
			inst.Host = "localhost"
		}
		var err error
		if inst.Username, err = ResolveEnv(inst.Username); err != nil {
			return fmt.Errorf("%w: instance %q username: %v", ErrLoadConfig, name, err)
		}
		if inst.Password, err = ResolveEnv(inst.Password); err != nil {
			return fmt.Errorf("%w: instance %q password: %v", ErrLoadConfig, name, err)
		}
		c.Instances[name] = inst
	}

	if c.LogDir == "" {
		c.LogDir = DefaultLogDir()
	}

	return c.Validate()
}

// ResolveEnv replaces a value of the form ${NAME} with the environment
// variable NAME. Other values are returned unchanged.
func ResolveEnv(value string) (string, error) {
	if !strings.HasPrefix(value, "${") || !strings.HasSuffix(value, "}") {
		return value, nil
	}
	name := value[2 : len(value)-1]
	env := os.Getenv(name)
	if strings.TrimSpace(env) == "" {
		return "", fmt.Errorf("environment variable %q is not set", name)
	}
	return env, nil
}

// DefaultLogDir is where failure diagnostics go when log_dir is not configured.
func DefaultLogDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "pgsafe", "logs")
}
