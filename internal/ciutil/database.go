package ciutil

import (
	"log/slog"
	"testing"
)

// GetTestDatabaseURL returns the Postgres URL for integration tests, checking
// NOTIFY_TEST_DATABASE_URL then DATABASE_URL.
func GetTestDatabaseURL(logger *slog.Logger) string {
	return GetEnvWithFallbacks([]string{EnvTestDatabaseURL, EnvDatabaseURL}, "", logger)
}

// GetTestRedisAddr returns the Redis address for integration tests, checking
// NOTIFY_TEST_REDIS_ADDR then REDIS_ADDR.
func GetTestRedisAddr(logger *slog.Logger) string {
	return GetEnvWithFallbacks([]string{EnvTestRedisAddr, EnvRedisAddr}, "", logger)
}

// RequireTestDatabaseURL returns the integration database URL or stops the test.
func RequireTestDatabaseURL(t testing.TB) string {
	t.Helper()
	return require(t, GetTestDatabaseURL(nil), EnvTestDatabaseURL)
}

// RequireTestRedisAddr returns the integration Redis address or stops the test.
func RequireTestRedisAddr(t testing.TB) string {
	t.Helper()
	return require(t, GetTestRedisAddr(nil), EnvTestRedisAddr)
}

func require(t testing.TB, value, envVar string) string {
	t.Helper()
	if value != "" {
		return value
	}
	if IsCI() {
		t.Fatalf("%s must be set in CI", envVar)
	}
	t.Skipf("%s not set", envVar)
	return ""
}
