package password

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearSet unsets every variable FromEnv reads; t.Setenv restores them afterwards.
func clearSet(t *testing.T) {
	t.Helper()
	for _, s := range envSettings {
		t.Setenv(s.key, "")
		require.NoError(t, os.Unsetenv(s.key))
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearSet(t)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestFromEnv_Override(t *testing.T) {
	t.Setenv("INSTANT_PASSWORD_MIN_LEN", "10")
	t.Setenv("INSTANT_PASSWORD_MAX_LEN", "200")
	t.Setenv("INSTANT_PASSWORD_REJECT_VERY_WEAK", "on")
	t.Setenv("INSTANT_ARGON2_MEMORY_KIB", "32768")
	t.Setenv("INSTANT_ARGON2_ITERATIONS", "4")
	t.Setenv("INSTANT_ARGON2_PARALLELISM", "2")
	t.Setenv("INSTANT_ARGON2_SALT_LEN", "24")
	t.Setenv("INSTANT_ARGON2_KEY_LEN", " 32 ")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, Policy{MinLength: 10, MaxLength: 200, RejectVeryWeak: true}, cfg.Policy)
	assert.Equal(t, Argon2idParams{MemoryKiB: 32768, Iterations: 4, Parallelism: 2, SaltLength: 24, KeyLength: 32}, cfg.Params)
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"min above max", map[string]string{"INSTANT_PASSWORD_MIN_LEN": "20", "INSTANT_PASSWORD_MAX_LEN": "10"}, "min_len(20) > max_len(10)"},
		{"not a number", map[string]string{"INSTANT_ARGON2_ITERATIONS": "many"}, "INSTANT_ARGON2_ITERATIONS: not an unsigned integer"},
		{"memory too low", map[string]string{"INSTANT_ARGON2_MEMORY_KIB": "1024"}, "INSTANT_ARGON2_MEMORY_KIB: out of range"},
		{"parallelism overflow", map[string]string{"INSTANT_ARGON2_PARALLELISM": "300"}, "INSTANT_ARGON2_PARALLELISM: out of range"},
		{"bad bool", map[string]string{"INSTANT_PASSWORD_REJECT_VERY_WEAK": "maybe"}, "invalid boolean"},
		{"negative min", map[string]string{"INSTANT_PASSWORD_MIN_LEN": "-1"}, "INSTANT_PASSWORD_MIN_LEN: out of range"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearSet(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
