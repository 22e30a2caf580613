//go:build cgo && duckdb && (linux || darwin || windows) && (amd64 || arm64)

// The DuckDB driver speaks to the C/C++ engine through CGO, so it stays
// behind an explicit build tag and the default build remains CGO-free.
// Enable with: CGO_ENABLED=1 go build -tags duckdb
package drivers

import (
	_ "github.com/marcboeker/go-duckdb"
)
