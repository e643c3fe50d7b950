// Package migrations holds the SQL schema for every supported driver.
package migrations

import "embed"

// FS contains one directory per driver ("postgres", "sqlite").
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
