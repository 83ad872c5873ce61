// Package migrations embeds the SQL schema migrations applied to the
// session store on daemon boot.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
