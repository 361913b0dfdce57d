package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"strings"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// authorizeBearer accepts any request when no token is configured. Otherwise
// the bearer value must match token; both sides are hashed first so the
// comparison time does not depend on the token length.
func authorizeBearer(authHeader, token string) *authError {
	if token == "" {
		return nil
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return &authError{
			status:  401,
			code:    "unauthorized",
			message: "missing or invalid bearer token",
		}
	}
	presented := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	got := sha256.Sum256([]byte(presented))
	want := sha256.Sum256([]byte(token))
	if !hmac.Equal(got[:], want[:]) {
		return &authError{status: 403, code: "forbidden", message: "bearer token rejected"}
	}
	return nil
}
