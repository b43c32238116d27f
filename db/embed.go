// Package db embeds the SQL migrations applied at startup.
package db

import "embed"

// Migrations holds migrations/*.sql. Files apply in lexical order and every
// statement must be safe to run again.
//
//go:embed migrations/*.sql
var Migrations embed.FS
