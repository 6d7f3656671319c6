// Package migrations embeds the sqlite schema migrations so the server
// and tests can apply them without shipping loose SQL files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
