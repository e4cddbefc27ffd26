// Package guard flips the binaries into test mode when imported by a test.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("HEARTH_TEST_MODE") == "" {
			_ = os.Setenv("HEARTH_TEST_MODE", "1")
		}
		if os.Getenv("STORE_BACKEND") == "" {
			_ = os.Setenv("STORE_BACKEND", "memory")
		}
	})
}
