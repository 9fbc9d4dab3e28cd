// Package guard switches the binaries into test mode when imported by tests,
// so calling main never dials PostgreSQL or Redis.
package guard

import "os"

func init() {
	if os.Getenv("FREELANCE_TEST_MODE") == "" {
		_ = os.Setenv("FREELANCE_TEST_MODE", "1")
	}
}
