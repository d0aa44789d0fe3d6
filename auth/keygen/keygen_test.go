package keygen

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestNewProducesValidKeys(t *testing.T) {
	for _, env := range []string{EnvironmentLive, EnvironmentTest} {
		k, err := New(env)
		require.NoError(t, err)
		require.Len(t, k.FullKey, KeyLen)
		require.True(t, ValidateFormat(k.FullKey))
		require.True(t, strings.HasPrefix(k.FullKey, "pk_"+env+"_"))
		require.Equal(t, "pk_"+env+"_", k.KeyPrefix)
		require.Len(t, k.KeyHash, 64)
		require.Equal(t, strings.ToLower(k.KeyHash), k.KeyHash)
		require.Len(t, k.KeyHint, 4)
		require.True(t, strings.HasSuffix(k.FullKey, k.KeyHint))
	}
}

func TestNewRejectsUnknownEnvironment(t *testing.T) {
	_, err := New("prod")
	require.ErrorIs(t, err, ErrInvalidEnvironment)
}

func TestVerifyRoundTrip(t *testing.T) {
	k, err := New(EnvironmentLive)
	require.NoError(t, err)
	require.True(t, Verify(k.FullKey, k.KeyHash))

	other, err := New(EnvironmentLive)
	require.NoError(t, err)
	require.False(t, Verify(other.FullKey, k.KeyHash))
}

func TestVerifyMalformedInputs(t *testing.T) {
	k, err := New(EnvironmentTest)
	require.NoError(t, err)

	require.False(t, Verify("", k.KeyHash))
	require.False(t, Verify(k.FullKey, ""))
	require.False(t, Verify(k.FullKey, "zz"))
	require.False(t, Verify(k.FullKey[:KeyLen-1], k.KeyHash))
	require.False(t, Verify(strings.Replace(k.FullKey, "pk_", "sk_", 1), k.KeyHash))
}

func TestValidateFormatRejectsDeviations(t *testing.T) {
	k, err := New(EnvironmentLive)
	require.NoError(t, err)

	cases := map[string]string{
		"short":       k.FullKey[:KeyLen-1],
		"long":        k.FullKey + "a",
		"bad env":     strings.Replace(k.FullKey, "_live_", "_prod_", 1),
		"bad charset": k.FullKey[:KeyLen-1] + "+",
		"no prefix":   strings.Replace(k.FullKey, "pk_", "xx_", 1),
	}
	for name, key := range cases {
		require.False(t, ValidateFormat(key), name)
	}
}

func TestEnvironment(t *testing.T) {
	k, err := New(EnvironmentTest)
	require.NoError(t, err)
	require.Equal(t, EnvironmentTest, Environment(k.FullKey))
	require.Empty(t, Environment("not a key"))
}

func TestKeyUniquenessProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("distinct generations have distinct hashes", prop.ForAll(
		func(_ int) bool {
			a, err := New(EnvironmentLive)
			if err != nil {
				return false
			}
			b, err := New(EnvironmentLive)
			if err != nil {
				return false
			}
			return a.KeyHash != b.KeyHash && Verify(a.FullKey, a.KeyHash) && !Verify(b.FullKey, a.KeyHash)
		},
		gen.Int(),
	))

	properties.Property("arbitrary strings never verify against a real hash", prop.ForAll(
		func(s string) bool {
			k, err := New(EnvironmentTest)
			if err != nil {
				return false
			}
			if s == k.FullKey {
				return true
			}
			return !Verify(s, k.KeyHash)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
