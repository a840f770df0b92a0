// Package db provides the embedded database migrations and seed data location.
package db

import "embed"

// Migrations holds the golang-migrate files, addressed as "migrations/NNNNNN_name.{up,down}.sql".
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations that holds the files.
const MigrationsDir = "migrations"
