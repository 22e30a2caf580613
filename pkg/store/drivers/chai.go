//go:build dragonfly || ios || freebsd || darwin || (linux && ppc64) || (linux && ppc64le) || (linux && s390x) || (linux && amd64) || (linux && mips64) || (linux && mips64le) || (linux && arm64) || android || (windows && amd64) || (windows && arm64)

package drivers

import (
	"database/sql"
	"database/sql/driver"

	sqlite "modernc.org/sqlite"
)

// The "chai" name reuses the modernc SQLite backend. Chai stores data in
// SQLite-compatible files, so sharing the implementation keeps the build
// simple while the name stays available as a config choice.
func init() {
	sql.Register("chai", newChaiDriver())
}

func newChaiDriver() driver.Driver {
	return &sqlite.Driver{}
}
