package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geopack/geopack/pkg/config"
	"github.com/geopack/geopack/pkg/keyring"
	"github.com/geopack/geopack/pkg/logger"
)

// NormalizeSSLMode converts host-application sslmode values (Qt enum names
// and their numeric forms) to libpq-compatible strings.
func NormalizeSSLMode(value string) string {
	mapping := map[string]string{
		"SslPrefer":     "prefer",
		"SslDisable":    "disable",
		"SslAllow":      "allow",
		"SslRequire":    "require",
		"SslVerifyCa":   "verify-ca",
		"SslVerifyFull": "verify-full",
		"0":             "prefer",
		"1":             "disable",
		"2":             "allow",
		"3":             "require",
		"4":             "verify-ca",
		"5":             "verify-full",
	}

	s := strings.TrimSpace(value)
	if s == "" {
		return "prefer"
	}
	if mapped, ok := mapping[s]; ok {
		return mapped
	}

	switch lower := strings.ToLower(s); lower {
	case "prefer", "disable", "allow", "require", "verify-ca", "verify-full":
		return lower
	}
	return "prefer"
}

// ResolveAuth fills username/password from the credential vault when the
// connection references an authRef. Best-effort: on any failure the input is
// returned unchanged and a warning is logged.
func ResolveAuth(conn config.Connection, vault *keyring.KeyringManager, log *logger.Logger) config.Connection {
	if conn.AuthRef == "" || (conn.Username != "" && conn.Password != "") {
		return conn
	}
	if vault == nil {
		return conn
	}

	username, password, err := vault.Credentials(conn.AuthRef)
	if err != nil {
		if log != nil {
			log.Warnf("Auth resolution failed for %s: %v", conn.AuthRef, err)
		}
		return conn
	}

	if username != "" {
		conn.Username = username
	}
	if password != "" {
		conn.Password = password
	}
	return conn
}

// connString renders a connection as a postgres URL. Credentials go through
// the URL userinfo encoder so reserved characters survive the round trip.
func connString(conn config.Connection) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(conn.Username, conn.Password),
		Host:     fmt.Sprintf("%s:%d", conn.Host, conn.Port),
		Path:     "/" + conn.Database,
		RawQuery: "sslmode=" + NormalizeSSLMode(conn.SSLMode),
	}
	return u.String()
}

// Connect establishes a pooled connection to a PostgreSQL database
func Connect(ctx context.Context, conn config.Connection) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString(conn))
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %v", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error pinging database: %v", err)
	}

	return pool, nil
}
