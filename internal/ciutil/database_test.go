package ciutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetTestDatabaseURL(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected string
	}{
		{
			name:     "nothing set",
			envVars:  map[string]string{},
			expected: "",
		},
		{
			name:     "dedicated variable",
			envVars:  map[string]string{EnvTestDatabaseURL: "postgres://a@localhost/test"},
			expected: "postgres://a@localhost/test",
		},
		{
			name:     "generic fallback",
			envVars:  map[string]string{EnvDatabaseURL: "postgres://b@localhost/test"},
			expected: "postgres://b@localhost/test",
		},
		{
			name: "dedicated beats generic",
			envVars: map[string]string{
				EnvTestDatabaseURL: "postgres://a@localhost/test",
				EnvDatabaseURL:     "postgres://b@localhost/test",
			},
			expected: "postgres://a@localhost/test",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(EnvTestDatabaseURL, "")
			t.Setenv(EnvDatabaseURL, "")
			for k, v := range tc.envVars {
				t.Setenv(k, v)
			}
			assert.Equal(t, tc.expected, GetTestDatabaseURL(nil))
		})
	}
}

func TestGetTestRedisAddr(t *testing.T) {
	t.Setenv(EnvTestRedisAddr, "")
	t.Setenv(EnvRedisAddr, "redis:6379")
	assert.Equal(t, "redis:6379", GetTestRedisAddr(nil))

	t.Setenv(EnvTestRedisAddr, "localhost:6380")
	assert.Equal(t, "localhost:6380", GetTestRedisAddr(nil))
}

func TestRequireTestRedisAddr_ReturnsValue(t *testing.T) {
	t.Setenv(EnvTestRedisAddr, "localhost:6379")
	assert.Equal(t, "localhost:6379", RequireTestRedisAddr(t))
}

func TestRequireTestDatabaseURL_SkipsOutsideCI(t *testing.T) {
	clearCI(t)
	t.Setenv(EnvTestDatabaseURL, "")
	t.Setenv(EnvDatabaseURL, "")

	ran := t.Run("inner", func(t *testing.T) {
		RequireTestDatabaseURL(t)
		t.Error("expected the test to be skipped")
	})
	assert.True(t, ran, "a skipped subtest still reports success")
}
