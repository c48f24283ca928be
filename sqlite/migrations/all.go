package migrations

import "embed"

// All contains the numbered migration scripts for the sqlite store. Each
// script sets user_version to its own number as its final statement.
//
//go:embed *.sql
var All embed.FS
