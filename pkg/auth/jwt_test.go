package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mahaj/pulse/pkg/errs"
	"github.com/stretchr/testify/require"
)

func TestNew_Requires_Secret(t *testing.T) {
	req := require.New(t)
	_, err := New("", time.Hour)
	req.ErrorIs(err, errs.ErrInvalidArgument)

	a, err := New("s3cret", 0)
	req.NoError(err)
	req.Equal(DefaultTTL, a.ttl)
}

func TestToken_Round_Trip(t *testing.T) {
	req := require.New(t)
	a, err := New("s3cret", time.Hour)
	req.NoError(err)

	token, err := a.GenerateToken("alice")
	req.NoError(err)

	userID, err := a.Authenticate(token)
	req.NoError(err)
	req.Equal("alice", userID)

	_, err = a.GenerateToken("")
	req.ErrorIs(err, errs.ErrInvalidArgument)
}

func TestToken_Rejections(t *testing.T) {
	req := require.New(t)
	a, err := New("s3cret", time.Hour)
	req.NoError(err)
	other, err := New("other", time.Hour)
	req.NoError(err)

	// signed with another secret
	token, err := other.GenerateToken("alice")
	req.NoError(err)
	_, err = a.Authenticate(token)
	req.ErrorIs(err, errs.ErrUnauthorized)

	// expired
	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err = a.GenerateToken("alice")
	req.NoError(err)
	a.now = time.Now
	_, err = a.Authenticate(token)
	req.ErrorIs(err, errs.ErrUnauthorized)

	// unsigned
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "alice"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	req.NoError(err)
	_, err = a.Authenticate(none)
	req.ErrorIs(err, errs.ErrUnauthorized)

	// garbage
	_, err = a.Authenticate("not-a-token")
	req.ErrorIs(err, errs.ErrUnauthorized)
}

func TestClaims_Context(t *testing.T) {
	req := require.New(t)
	_, ok := ClaimsFrom(context.Background())
	req.False(ok)

	ctx := WithClaims(context.Background(), &Claims{UserID: "bob"})
	claims, ok := ClaimsFrom(ctx)
	req.True(ok)
	req.Equal("bob", claims.UserID)
}
