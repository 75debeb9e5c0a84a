//go:build !cgo_sqlite

package main

import (
	_ "modernc.org/sqlite"
)

// sqliteDriver is the pure Go driver used by default.
const sqliteDriver = "sqlite"
