// Package migrations содержит встроенные SQL миграции сервиса.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Dir каталог миграций внутри embed.FS
const Dir = "."
