package app

import (
	"os"
	"sync"
)

const testModeEnv = "VANTAGE_TEST_MODE"

var inTestMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1"
})

// InTestMode reports whether the process should skip runtime side effects.
// Binaries check it before connecting to anything so tests can exec them.
func InTestMode() bool {
	return inTestMode()
}
