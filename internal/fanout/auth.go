package fanout

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errMissingToken = errors.New("missing auth token")

// tokenFromRequest pulls the bearer token from the Authorization header,
// falling back to the token query parameter for browser WebSocket clients
// that cannot set headers.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if raw, ok := strings.CutPrefix(h, "Bearer "); ok {
			return raw
		}
	}
	return r.URL.Query().Get("token")
}

// authenticate validates the dashboard token against the shared identity
// secret and returns the subject claim.
func authenticate(r *http.Request, secret []byte) (string, error) {
	raw := tokenFromRequest(r)
	if raw == "" {
		return "", errMissingToken
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	return sub, nil
}
