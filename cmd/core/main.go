// Package main provides the spiritlog core command line.
package main

import (
	"github.com/kimhsiao/spiritlog/backend/internal/config"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		config.Exitf("Error: %v", err)
	}
}
