package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AdminClaims are the claims expected on a signed admin token.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Decision is the outcome of an admin authorization check. Subject is
// only set for signed tokens and exists for audit logging.
type Decision struct {
	Allowed bool
	Method  string
	Subject string
}

// AdminGate authorizes session revocation and cleanup operations. A
// bearer credential passes if it matches the static admin token, or if
// it is an HS256 token verifiable with the signing secret whose role
// claim is admin or service. An unconfigured gate denies everything.
type AdminGate struct {
	staticToken   string
	signingSecret []byte
}

func NewAdminGate(staticToken, signingSecret string) *AdminGate {
	g := &AdminGate{staticToken: staticToken}
	if signingSecret != "" {
		g.signingSecret = []byte(signingSecret)
	}
	return g
}

// Enabled reports whether any admin credential path is configured.
func (g *AdminGate) Enabled() bool {
	return g.staticToken != "" || len(g.signingSecret) > 0
}

// Authorize never returns an error: malformed credentials simply fail
// the check.
func (g *AdminGate) Authorize(credential string) Decision {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Decision{}
	}
	if g.staticToken != "" && constantTimeEqual(credential, g.staticToken) {
		return Decision{Allowed: true, Method: "static_token"}
	}
	if len(g.signingSecret) > 0 {
		if claims, err := g.parseSignedToken(credential); err == nil {
			return Decision{Allowed: true, Method: "signed_token", Subject: claims.Subject}
		}
	}
	return Decision{}
}

var errUnexpectedSigningAlg = errors.New("unexpected signing algorithm")

func (g *AdminGate) parseSignedToken(raw string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errUnexpectedSigningAlg
		}
		return g.signingSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	switch claims.Role {
	case "admin", "service":
		return claims, nil
	default:
		return nil, errors.New("insufficient role")
	}
}

func constantTimeEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
