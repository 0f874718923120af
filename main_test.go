package main

import (
	"testing"
)

// TestMain_Imports verifies that the main package links against cmd and recovery.
// main() itself exits through cmd.Execute, so behaviour is tested in package cmd.
func TestMain_Imports(t *testing.T) {
}
