// Package migrations embeds the postgres schema migrations so the migrate
// command and the integration tests do not depend on the working directory.
package migrations

import "embed"

// FS holds every *.up.sql / *.down.sql pair in this directory.
//
//go:embed *.sql
var FS embed.FS
