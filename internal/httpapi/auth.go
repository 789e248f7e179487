package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const RoleAdmin = "admin"

var (
	errMissingToken = errors.New("missing bearer token")
	errNotAdmin     = errors.New("admin role required")
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AdminAuth signs and checks HS256 tokens for the administrator routes.
type AdminAuth struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAdminAuth(secret string, ttl time.Duration) *AdminAuth {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &AdminAuth{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (a *AdminAuth) IssueToken(subject string) (string, error) {
	now := a.now()
	claims := Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *AdminAuth) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// authorize returns errMissingToken, a parse error, or errNotAdmin.
func (a *AdminAuth) authorize(r *http.Request) error {
	raw := bearerToken(r.Header.Get("Authorization"))
	if raw == "" {
		return errMissingToken
	}
	claims, err := a.Validate(raw)
	if err != nil {
		return err
	}
	if claims.Role != RoleAdmin {
		return errNotAdmin
	}
	return nil
}

// requireAdmin writes the rejection itself and reports whether to continue.
// A nil AdminAuth leaves admin routes open.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if h.admin == nil {
		return true
	}
	err := h.admin.authorize(r)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errNotAdmin):
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "admin access required")
	case errors.Is(err, errMissingToken):
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "authorization header required")
	default:
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid or expired token")
	}
	return false
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}
