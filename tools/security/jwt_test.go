package security

import (
	"testing"
	"time"

	"PPresence/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerify(t *testing.T) {
	opts := DefaultOptions([]byte("s3cret"))
	tok, exp, err := Generate(opts, "u1", "Ann", "https://img/ann.png")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), exp, time.Minute)

	c, err := Verify(opts, tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.Identity())
	assert.Equal(t, "Ann", c.Name)
	assert.Equal(t, "https://img/ann.png", c.Image)
	assert.False(t, c.HasScope(ScopePublishEvents))

	tok, _, err = Generate(opts, "svc", "", "", ScopePublishEvents)
	require.NoError(t, err)
	c, err = Verify(opts, tok)
	require.NoError(t, err)
	assert.True(t, c.HasScope(ScopePublishEvents))
}

func TestVerifyRejects(t *testing.T) {
	opts := DefaultOptions([]byte("s3cret"))
	tok, _, err := Generate(opts, "u1", "", "")
	require.NoError(t, err)

	_, err = Verify(DefaultOptions([]byte("other")), tok)
	assert.Equal(t, errs.UnauthorizedError, errs.Code(err))

	old, _, err := Generate(Options{Secret: opts.Secret, TTL: time.Nanosecond}, "u1", "", "")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = Verify(opts, old)
	assert.Error(t, err)

	_, err = Verify(Options{Secret: opts.Secret, Alg: "RS256"}, tok)
	assert.Equal(t, errs.ConfigError, errs.Code(err))

	_, _, err = Generate(opts, "", "", "")
	assert.Error(t, err)
	assert.NotEqual(t, HashToken("a"), HashToken("b"))
}
