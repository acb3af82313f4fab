//go:build !sqlite

package storage

import "errors"

// SQLiteAvailable reports whether this binary was built with the sqlite tag.
const SQLiteAvailable = false

var errNoSQLite = errors.New("sqlite store not compiled in; build with -tags sqlite")

func newSQLiteStore(string) (Store, error) {
	return nil, errNoSQLite
}
