//go:build !test

// This file wires in the SQL drivers only for production builds. go test
// and go vet exclude it via the build tag, keeping tooling runs light
// while binaries still register every supported engine.
package main

import "github.com/MaineSkyPixels/Metainfo-Mapper/pkg/store/drivers"

func init() {
	// Touch the drivers package so its init functions register SQL
	// backends before the store opens a connection.
	drivers.Ready()
}
