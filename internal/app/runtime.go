package app

import (
	"os"
	"sync"
)

// TestModeEnv makes the binaries return before touching Postgres or Redis.
const TestModeEnv = "DOCFLOW_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(TestModeEnv) == "1"
})

// InTestMode reports whether DOCFLOW_TEST_MODE=1 was set at first call.
func InTestMode() bool {
	return testMode()
}
