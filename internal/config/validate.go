package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Validate checks the loaded configuration and reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if strings.TrimSpace(c.OutputDir) == "" {
		result = multierror.Append(result, fmt.Errorf("output_dir is required"))
	}
	if c.Parallelism < 1 {
		result = multierror.Append(result, fmt.Errorf("parallelism must be >= 1, got %d", c.Parallelism))
	}
	if c.Tools.Timeout < 0 {
		result = multierror.Append(result, fmt.Errorf("tools.timeout must not be negative"))
	}
	if len(c.Instances) == 0 {
		result = multierror.Append(result, fmt.Errorf("no instances configured"))
	}

	for _, name := range c.InstanceNames() {
		inst := c.Instances[name]
		if strings.TrimSpace(inst.Host) == "" {
			result = multierror.Append(result, fmt.Errorf("instance %q is missing host", name))
		}
		if inst.Port <= 0 || inst.Port > 65535 {
			result = multierror.Append(result, fmt.Errorf("instance %q has invalid port %d", name, inst.Port))
		}
		if !inst.AutoDetect && len(inst.Databases) == 0 {
			result = multierror.Append(result, fmt.Errorf("instance %q has no databases and auto_detect is off", name))
		}
		if inst.VaultPath != "" {
			if c.Vault.Address == "" {
				result = multierror.Append(result, fmt.Errorf("instance %q uses vault_path but vault.address is empty", name))
			}
			continue
		}
		if strings.TrimSpace(inst.Username) == "" {
			result = multierror.Append(result, fmt.Errorf("instance %q username is required", name))
		}
		if strings.TrimSpace(inst.Password) == "" {
			result = multierror.Append(result, fmt.Errorf("instance %q password is required", name))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidateConfig, err)
	}
	return nil
}

// InstanceNames returns the configured instance names in sorted order.
func (c *Config) InstanceNames() []string {
	names := make([]string, 0, len(c.Instances))
	for name := range c.Instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BackupDatabases returns the databases of an instance that have backups enabled, sorted.
func (i Instance) BackupDatabases() []string {
	var names []string
	for name, db := range i.Databases {
		if db.Backup.IsEnabled() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
