package utils

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestDedup(t *testing.T) {
	in := []string{"http://a/", "http://a", " http://b ", "", "http://b/"}
	assert.Equal(t, []string{"http://a", "http://b"}, Dedup(in))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"x", "y"}, SplitList("x, y,,x"))
	assert.Empty(t, SplitList(""))
}

func TestParseDuration(t *testing.T) {
	d, ok := ParseDuration("250")
	require.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, d)

	d, ok = ParseDuration(" 2s ")
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, d)

	_, ok = ParseDuration("soon")
	assert.False(t, ok)
	_, ok = ParseDuration("")
	assert.False(t, ok)
}

func TestEnv(t *testing.T) {
	t.Setenv("TEST_LEVEL", "debug")
	assert.Equal(t, "debug", Env("TEST_LEVEL", "info"))
	assert.Equal(t, "info", Env("TEST_MISSING_LEVEL", "info"))
}

func TestMatchSecret(t *testing.T) {
	assert.True(t, MatchSecret("devtoken", "devtoken"))
	assert.False(t, MatchSecret("devtoken", "other"))
	assert.False(t, MatchSecret("", ""))

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, MatchSecret(string(hash), "s3cret"))
	assert.False(t, MatchSecret(string(hash), "nope"))
}

func TestReadAndClose(t *testing.T) {
	bz, err := ReadAndClose(io.NopCloser(strings.NewReader("hello world")), 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(bz))
}
