package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("HEARTH_TEST_MODE", "1")
		if os.Getenv("STORE_BACKEND") == "" {
			_ = os.Setenv("STORE_BACKEND", "memory")
		}
		_ = os.Unsetenv("AMQP_URL")
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
