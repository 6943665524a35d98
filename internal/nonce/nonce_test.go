package nonce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_CreateAndVerify(t *testing.T) {
	s := NewService()
	defer s.Stop()

	token, err := s.Create("admin", "connect")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	assert.True(t, s.Verify("admin", "connect", token))
}

func TestService_SingleUse(t *testing.T) {
	s := NewService()
	defer s.Stop()

	token, err := s.Create("admin", "disconnect")
	require.NoError(t, err)

	require.True(t, s.Verify("admin", "disconnect", token))
	assert.False(t, s.Verify("admin", "disconnect", token), "second verification must fail")
}

func TestService_ScopeMismatch(t *testing.T) {
	s := NewService()
	defer s.Stop()

	t.Run("wrong action", func(t *testing.T) {
		token, err := s.Create("admin", "connect")
		require.NoError(t, err)
		assert.False(t, s.Verify("admin", "disconnect", token))
	})

	t.Run("wrong user", func(t *testing.T) {
		token, err := s.Create("admin", "connect")
		require.NoError(t, err)
		assert.False(t, s.Verify("intruder", "connect", token))
	})

	t.Run("mismatch consumes the nonce", func(t *testing.T) {
		token, err := s.Create("admin", "connect")
		require.NoError(t, err)
		require.False(t, s.Verify("admin", "disconnect", token))
		assert.False(t, s.Verify("admin", "connect", token))
	})
}

func TestService_Expiry(t *testing.T) {
	s := NewServiceWithTTL(time.Millisecond)
	defer s.Stop()

	token, err := s.Create("admin", "connect")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	assert.False(t, s.Verify("admin", "connect", token))
}

func TestService_RejectsEmptyToken(t *testing.T) {
	s := NewService()
	defer s.Stop()

	assert.False(t, s.Verify("admin", "connect", ""))
}

func TestService_UniqueTokens(t *testing.T) {
	s := NewService()
	defer s.Stop()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := s.Create("admin", "connect")
		require.NoError(t, err)
		require.False(t, seen[token], "duplicate nonce generated")
		seen[token] = true
	}
}
