// Package migrations embeds the goose SQL migrations so the service can
// bring its own schema up at startup.
package migrations

import "embed"

//go:embed *.sql
var Embed embed.FS
