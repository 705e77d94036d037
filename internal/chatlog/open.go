package chatlog

import "fmt"

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendLibSQL = "libsql"
	BackendMemory = "memory"
)

// Open constructs the log for the named backend. token is the access
// credential of a hosted libSQL store and is ignored by the other backends,
// as dsn is by the memory backend.
func Open(backend, dsn, token string) (Log, error) {
	switch backend {
	case "", BackendSQLite:
		store, err := OpenSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendLibSQL:
		store, err := OpenLibSQL(dsn, token)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
