package database

import (
	"context"
	"fmt"

	"github.com/kebairia/pgsafe/internal/config"
	"github.com/kebairia/pgsafe/internal/vault"
)

// CredentialSource hands out short-lived database credentials.
type CredentialSource interface {
	GetDynamicCredentials(ctx context.Context, path string) (vault.DynamicCredentials, error)
}

// ConnFromConfig builds the connection for one configured instance. Instances
// with a vault_path take their username and password from creds.
func ConnFromConfig(ctx context.Context, inst config.Instance, creds CredentialSource) (Conn, error) {
	conn := Conn{
		Host:            inst.Host,
		Port:            inst.Port,
		Username:        inst.Username,
		Password:        inst.Password,
		SSLMode:         inst.SSLMode,
		RootCertificate: inst.RootCertificate,
	}
	if inst.VaultPath == "" {
		return conn, nil
	}
	if creds == nil {
		return Conn{}, fmt.Errorf("vault path %q configured but no vault client available", inst.VaultPath)
	}
	dyn, err := creds.GetDynamicCredentials(ctx, inst.VaultPath)
	if err != nil {
		return Conn{}, fmt.Errorf("vault read %q: %w", inst.VaultPath, err)
	}
	conn.Username = dyn.Username
	conn.Password = dyn.Password
	return conn, nil
}

// InitConns resolves a connection for every configured instance.
func InitConns(ctx context.Context, cfg config.Config, creds CredentialSource) (map[string]Conn, error) {
	conns := make(map[string]Conn, len(cfg.Instances))
	for _, name := range cfg.InstanceNames() {
		conn, err := ConnFromConfig(ctx, cfg.Instances[name], creds)
		if err != nil {
			return nil, fmt.Errorf("initialize instance %q: %w", name, err)
		}
		conns[name] = conn
	}
	return conns, nil
}

// DiscoverDatabases returns the databases of an instance: every non-template
// database when auto_detect is on, otherwise the configured ones with backups enabled.
func DiscoverDatabases(ctx context.Context, inst config.Instance, conn Conn, prov Provisioner) ([]string, error) {
	if !inst.AutoDetect {
		return inst.BackupDatabases(), nil
	}
	names, err := prov.ListDatabases(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("discover databases on %s: %w", conn.Host, err)
	}
	var out []string
	for _, name := range names {
		if name == maintenanceDB {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}
