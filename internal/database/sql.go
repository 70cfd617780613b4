package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// maintenanceDB is the database administrative queries connect to.
const maintenanceDB = "postgres"

const (
	queryDatabaseExists = `SELECT 1 FROM pg_database WHERE datname = $1`
	queryListDatabases  = `SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname`
	queryStats          = `SELECT count(*), COALESCE(sum(n_live_tup), 0) FROM pg_stat_user_tables`
)

// OpenFunc opens a database/sql handle for a DSN.
type OpenFunc func(dsn string) (*sql.DB, error)

// SQLClient implements Provisioner and StatsProvider over database/sql with the pgx driver.
type SQLClient struct {
	Open         OpenFunc
	QueryTimeout time.Duration
}

var (
	_ Provisioner   = (*SQLClient)(nil)
	_ StatsProvider = (*SQLClient)(nil)
)

// NewSQLClient returns a client using the pgx stdlib driver.
func NewSQLClient() *SQLClient {
	return &SQLClient{
		Open: func(dsn string) (*sql.DB, error) {
			return sql.Open("pgx", dsn)
		},
		QueryTimeout: 5 * time.Second,
	}
}

// DSN builds a libpq URL for database on conn.
func DSN(conn Conn, database string) string {
	q := url.Values{}
	if conn.SSLMode != "" {
		q.Set("sslmode", conn.SSLMode)
	}
	if conn.RootCertificate != "" {
		q.Set("sslrootcert", conn.RootCertificate)
	}
	q.Set("connect_timeout", "5")
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(conn.Username, conn.Password),
		Host:     net.JoinHostPort(conn.Host, conn.portString()),
		Path:     "/" + database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (c *SQLClient) withDB(ctx context.Context, conn Conn, database string, fn func(ctx context.Context, db *sql.DB) error) error {
	db, err := c.Open(DSN(conn, database))
	if err != nil {
		return fmt.Errorf("open %s@%s/%s: %w", conn.Username, conn.Host, database, err)
	}
	defer db.Close()

	if c.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.QueryTimeout)
		defer cancel()
	}
	return fn(ctx, db)
}

// DatabaseExists reports whether name exists on the instance.
func (c *SQLClient) DatabaseExists(ctx context.Context, conn Conn, name string) (bool, error) {
	var exists bool
	err := c.withDB(ctx, conn, maintenanceDB, func(ctx context.Context, db *sql.DB) error {
		var one int
		err := db.QueryRowContext(ctx, queryDatabaseExists, name).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil
		case err != nil:
			return fmt.Errorf("check database %q: %w", name, err)
		}
		exists = true
		return nil
	})
	return exists, err
}

// CreateDatabase issues CREATE DATABASE with a quoted identifier.
func (c *SQLClient) CreateDatabase(ctx context.Context, conn Conn, name string) error {
	return c.withDB(ctx, conn, maintenanceDB, func(ctx context.Context, db *sql.DB) error {
		stmt := "CREATE DATABASE " + pgx.Identifier{name}.Sanitize()
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create database %q: %w", name, err)
		}
		return nil
	})
}

// ListDatabases returns the non-template databases of the instance.
func (c *SQLClient) ListDatabases(ctx context.Context, conn Conn) ([]string, error) {
	var names []string
	err := c.withDB(ctx, conn, maintenanceDB, func(ctx context.Context, db *sql.DB) error {
		rows, err := db.QueryContext(ctx, queryListDatabases)
		if err != nil {
			return fmt.Errorf("list databases: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return fmt.Errorf("scan database name: %w", err)
			}
			names = append(names, name)
		}
		return rows.Err()
	})
	return names, err
}

// Stats counts user tables and their approximate live rows.
func (c *SQLClient) Stats(ctx context.Context, conn Conn, database string) (Stats, error) {
	var stats Stats
	err := c.withDB(ctx, conn, database, func(ctx context.Context, db *sql.DB) error {
		if err := db.QueryRowContext(ctx, queryStats).Scan(&stats.Tables, &stats.Rows); err != nil {
			return fmt.Errorf("read statistics for %q: %w", database, err)
		}
		return nil
	})
	return stats, err
}
