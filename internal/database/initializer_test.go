package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/pgsafe/internal/config"
	"github.com/kebairia/pgsafe/internal/vault"
)

type stubCreds struct {
	creds vault.DynamicCredentials
	err   error
	paths []string
}

func (s *stubCreds) GetDynamicCredentials(_ context.Context, path string) (vault.DynamicCredentials, error) {
	s.paths = append(s.paths, path)
	return s.creds, s.err
}

type stubProvisioner struct {
	names []string
}

func (s stubProvisioner) DatabaseExists(context.Context, Conn, string) (bool, error) { return false, nil }
func (s stubProvisioner) CreateDatabase(context.Context, Conn, string) error         { return nil }
func (s stubProvisioner) ListDatabases(context.Context, Conn) ([]string, error)      { return s.names, nil }

func TestConnFromConfig_StaticCredentials(t *testing.T) {
	inst := config.Instance{Host: "h", Port: 5433, Username: "u", Password: "p", SSLMode: "require"}
	conn, err := ConnFromConfig(context.Background(), inst, nil)
	require.NoError(t, err)
	assert.Equal(t, Conn{Host: "h", Port: 5433, Username: "u", Password: "p", SSLMode: "require"}, conn)
}

func TestConnFromConfig_VaultOverrides(t *testing.T) {
	src := &stubCreds{creds: vault.DynamicCredentials{Username: "v-user", Password: "v-pass"}}
	inst := config.Instance{Host: "h", Port: 5432, VaultPath: "database/creds/backup"}

	conn, err := ConnFromConfig(context.Background(), inst, src)
	require.NoError(t, err)
	assert.Equal(t, "v-user", conn.Username)
	assert.Equal(t, "v-pass", conn.Password)
	assert.Equal(t, []string{"database/creds/backup"}, src.paths)
}

func TestInitConns_VaultError(t *testing.T) {
	cfg := config.Config{Instances: map[string]config.Instance{
		"db1": {Host: "h", Port: 5432, VaultPath: "database/creds/x"},
	}}
	_, err := InitConns(context.Background(), cfg, &stubCreds{err: errors.New("denied")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `instance "db1"`)
}

func TestDiscoverDatabases(t *testing.T) {
	enabled, disabled := true, false
	inst := config.Instance{Databases: map[string]config.DatabaseConfig{
		"orders": {Backup: config.DatabaseBackup{Enabled: &enabled}},
		"audit":  {Backup: config.DatabaseBackup{Enabled: &disabled}},
		"users":  {},
	}}
	names, err := DiscoverDatabases(context.Background(), inst, Conn{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, names)

	inst.AutoDetect = true
	names, err = DiscoverDatabases(context.Background(), inst, Conn{}, stubProvisioner{names: []string{"orders", "postgres", "sales"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "sales"}, names)
}
