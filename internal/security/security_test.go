package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"telecare/internal/domain"
)

func TestTokenService_Authenticate(t *testing.T) {
	req := require.New(t)
	svc := NewTokenService("secret", time.Hour)

	token, err := svc.Issue(domain.Peer{ID: "dr-who", Role: domain.RoleClinician})
	req.NoError(err)

	peer, err := svc.Authenticate(token)
	req.NoError(err)
	req.Equal(domain.Peer{ID: "dr-who", Role: domain.RoleClinician}, peer)
}

func TestTokenService_Rejects_Foreign_Or_Expired_Tokens(t *testing.T) {
	req := require.New(t)
	svc := NewTokenService("secret", time.Hour)
	other := NewTokenService("other-secret", time.Hour)

	foreign, err := other.Issue(domain.Peer{ID: "p1", Role: domain.RolePatient})
	req.NoError(err)
	_, err = svc.Authenticate(foreign)
	req.ErrorIs(err, domain.ErrUnauthorized)

	expired, err := svc.IssueWithTTL(domain.Peer{ID: "p1", Role: domain.RolePatient}, -time.Minute)
	req.NoError(err)
	_, err = svc.Authenticate(expired)
	req.ErrorIs(err, domain.ErrUnauthorized)
}

func TestCipher_Seal_Open(t *testing.T) {
	req := require.New(t)
	c, err := NewCipher([]byte("a secret of any length"))
	req.NoError(err)

	sealed, err := c.Seal("blood pressure 120/80")
	req.NoError(err)
	req.NotContains(sealed, "blood")

	plain, err := c.Open(sealed)
	req.NoError(err)
	req.Equal("blood pressure 120/80", plain)

	// two seals of the same text differ because of the random nonce
	again, err := c.Seal("blood pressure 120/80")
	req.NoError(err)
	req.NotEqual(sealed, again)
}

func TestCipher_Open_Rejects_Tampering(t *testing.T) {
	req := require.New(t)
	c, err := NewCipher([]byte("k"))
	req.NoError(err)
	other, err := NewCipher([]byte("k2"))
	req.NoError(err)

	sealed, err := c.Seal("hello")
	req.NoError(err)
	_, err = other.Open(sealed)
	req.Error(err)
	_, err = c.Open("%%%")
	req.Error(err)
}

func TestNewTextCodec_Defaults_To_Plaintext(t *testing.T) {
	codec, err := NewTextCodec("")
	require.NoError(t, err)
	require.IsType(t, Plaintext{}, codec)
}
