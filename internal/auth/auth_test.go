package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123"

func TestMintVerify_RoundTrip(t *testing.T) {
	a := New(secret, "domainkeeper")
	u := User{ID: "u1", TenantID: "acme", Role: RoleEditor}

	tok, err := a.Mint(u, time.Hour)
	require.NoError(t, err)

	got, err := a.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, u, got)
}

func TestVerify_Rejects(t *testing.T) {
	a := New(secret, "domainkeeper")
	valid, err := a.Mint(User{ID: "u1", TenantID: "acme", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	expired := New(secret, "domainkeeper")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredTok, err := expired.Mint(User{ID: "u1", TenantID: "acme", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	otherIssuer, err := New(secret, "someone-else").Mint(User{ID: "u1", TenantID: "acme", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	wrongKey, err := New("another-secret-value!", "domainkeeper").Mint(User{ID: "u1", TenantID: "acme", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{TenantID: "acme",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", Issuer: "domainkeeper",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}})
	noneTok, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"tampered", valid + "x"},
		{"expired", expiredTok},
		{"wrong issuer", otherIssuer},
		{"wrong key", wrongKey},
		{"alg none", noneTok},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestMint_ValidatesUser(t *testing.T) {
	a := New(secret, "")
	_, err := a.Mint(User{ID: "u1", Role: RoleAdmin}, time.Hour)
	assert.Error(t, err)
	_, err = a.Mint(User{ID: "u1", TenantID: "t", Role: "owner"}, time.Hour)
	assert.Error(t, err)
}

func TestFromRequest(t *testing.T) {
	a := New(secret, "domainkeeper")
	tok, err := a.Mint(User{ID: "u1", TenantID: "acme", Role: RoleViewer}, time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/", nil)
	_, err = a.FromRequest(r)
	assert.ErrorIs(t, err, ErrMissingToken)

	r.Header.Set("Authorization", "Basic abc")
	_, err = a.FromRequest(r)
	assert.ErrorIs(t, err, ErrMissingToken)

	r.Header.Set("Authorization", "bearer "+tok)
	u, err := a.FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "acme", u.TenantID)
	assert.False(t, u.Role.CanWrite())
}

func TestUserContext(t *testing.T) {
	_, ok := UserFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithUser(context.Background(), User{ID: "u1", TenantID: "t", Role: RoleAdmin})
	u, ok := UserFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", u.ID)
}
