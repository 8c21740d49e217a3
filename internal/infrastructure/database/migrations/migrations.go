// Package migrations 内嵌数据库迁移脚本，随二进制发布。
package migrations

import "embed"

// Migrations holds the embedded goose SQL migration files.
//
//go:embed *.sql
var Migrations embed.FS
