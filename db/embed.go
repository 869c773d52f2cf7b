// Package db provides the embedded database schema and sample seed data.
package db

import _ "embed"

// Schema contains the DDL statements for the api_keys table.
//
//go:embed migrations/001_schema.sql
var Schema string

// SampleKeys is the default seed file consumed by seed-db.
//
//go:embed seed/api_keys.yaml
var SampleKeys []byte
