package chatlog

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

var errLibSQLURL = errors.New("libsql backend needs a libsql://, https:// or wss:// database URL")

// OpenLibSQL opens a hosted libSQL database such as Turso. token is sent as
// the authToken of every request; it may be empty for servers without auth.
func OpenLibSQL(endpoint, token string) (*SQLite, error) {
	dsn, err := libsqlDSN(endpoint, token)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql database: %w", err)
	}
	return newSQLite(db, false)
}

// libsqlDSN adds the auth token to endpoint. A token already in the URL is
// replaced.
func libsqlDSN(endpoint, token string) (string, error) {
	if endpoint == "" {
		return "", errLibSQLURL
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse libsql url: %w", err)
	}
	switch u.Scheme {
	case "libsql", "https", "http", "wss", "ws":
	default:
		return "", fmt.Errorf("%w, got %q", errLibSQLURL, endpoint)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w, got %q", errLibSQLURL, endpoint)
	}

	if token != "" {
		q := u.Query()
		q.Set("authToken", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
