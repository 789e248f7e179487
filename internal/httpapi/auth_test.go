package httpapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"livequeue/queue-service/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminTokenRoundTrip(t *testing.T) {
	auth := NewAdminAuth("s3cret", time.Hour)
	raw, err := auth.IssueToken("front-desk")
	require.NoError(t, err)

	claims, err := auth.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.Equal(t, "front-desk", claims.Subject)

	_, err = NewAdminAuth("other", time.Hour).Validate(raw)
	assert.Error(t, err)
}

func TestAdminTokenExpires(t *testing.T) {
	auth := NewAdminAuth("s3cret", time.Minute)
	issued := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return issued }
	raw, err := auth.IssueToken("front-desk")
	require.NoError(t, err)

	auth.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = auth.Validate(raw)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	auth := NewAdminAuth("s3cret", time.Hour)
	svc := fakeService{
		nextFn: func(ctx context.Context, locationID string) (models.Token, error) {
			return models.Token{LocationID: locationID, TokenNumber: 1}, nil
		},
	}
	h := newTestHandler(svc, Options{Admin: auth})

	resp, env := serve(t, h, http.MethodPut, "/api/places/hospital-1/next", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "unauthorized", env.Error.Code)

	resp, _ = serve(t, h, http.MethodPut, "/api/places/hospital-1/next", nil, http.Header{"Authorization": {"Bearer garbage"}})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	visitor := Claims{Role: "visitor", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	visitorToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, visitor).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	resp, env = serve(t, h, http.MethodPut, "/api/places/hospital-1/next", nil, http.Header{"Authorization": {"Bearer " + visitorToken}})
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, "access_denied", env.Error.Code)

	adminToken, err := auth.IssueToken("front-desk")
	require.NoError(t, err)
	resp, _ = serve(t, h, http.MethodPut, "/api/places/hospital-1/next", nil, http.Header{"Authorization": {"Bearer " + adminToken}})
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestVisitorRoutesStayPublicWithAdminAuth(t *testing.T) {
	h := newTestHandler(fakeService{}, Options{Admin: NewAdminAuth("s3cret", time.Hour)})
	resp, _ := serve(t, h, http.MethodPost, "/api/places/hotel-1/request", nil, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	resp, _ = serve(t, h, http.MethodGet, "/api/places/hotel-1/tokens", nil, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer abc"))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken("Bearer"))
	assert.Empty(t, bearerToken(""))
}
