package app

import (
	"os"
	"sync/atomic"
)

const testModeEnv = "EMIS_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether binaries should skip connecting to Redis,
// Postgres and the EMIS API. The testing package sets EMIS_TEST_MODE=1.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads the environment and caches the result.
func RefreshTestMode() bool {
	v := os.Getenv(testModeEnv) == "1"
	testMode.Store(&v)
	return v
}
