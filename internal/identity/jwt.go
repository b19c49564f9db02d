package identity

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionCookie is the cookie the hosted identity provider stores its
// session token in.
const DefaultSessionCookie = "__session"

// ErrUnauthenticated is returned when a request has no valid session token.
var ErrUnauthenticated = errors.New("unauthenticated")

// Provider resolves the caller of an inbound request.
type Provider interface {
	Resolve(r *http.Request) (Caller, error)
}

// Config selects how session tokens are verified. Exactly one of Secret
// (HS256) or PublicKeyPEM (RS256) must be set.
type Config struct {
	Secret        string
	PublicKeyPEM  []byte
	Issuer        string
	SessionCookie string
	Leeway        time.Duration
}

// Verifier checks identity-provider session JWTs and extracts the subject.
type Verifier struct {
	parser  *jwt.Parser
	keyFunc jwt.Keyfunc
	cookie  string
}

// NewVerifier builds a Verifier from cfg.
func NewVerifier(cfg Config) (*Verifier, error) {
	var (
		method string
		key    any
	)
	switch {
	case len(cfg.PublicKeyPEM) > 0:
		pub, err := jwt.ParseRSAPublicKeyFromPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("NewVerifier: parsing public key: %w", err)
		}
		method, key = jwt.SigningMethodRS256.Alg(), pub
	case cfg.Secret != "":
		method, key = jwt.SigningMethodHS256.Alg(), []byte(cfg.Secret)
	default:
		return nil, errors.New("NewVerifier: either a secret or a public key is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	cookie := cfg.SessionCookie
	if cookie == "" {
		cookie = DefaultSessionCookie
	}

	return &Verifier{
		parser: jwt.NewParser(opts...),
		keyFunc: func(token *jwt.Token) (interface{}, error) {
			switch key.(type) {
			case *rsa.PublicKey:
				if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
			default:
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
			}
			return key, nil
		},
		cookie: cookie,
	}, nil
}

// Resolve reads the session token from the Authorization header, falling back
// to the session cookie, and verifies it. A request without any token yields
// ErrUnauthenticated.
func (v *Verifier) Resolve(r *http.Request) (Caller, error) {
	token := bearerToken(r)
	if token == "" {
		if c, err := r.Cookie(v.cookie); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return Caller{}, ErrUnauthenticated
	}
	return v.Verify(token)
}

// Verify validates a raw token and returns the caller named by its subject.
func (v *Verifier) Verify(token string) (Caller, error) {
	claims := &jwt.RegisteredClaims{}
	if _, err := v.parser.ParseWithClaims(token, claims, v.keyFunc); err != nil {
		return Caller{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return Caller{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return Caller{ExternalID: claims.Subject}, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

var _ Provider = (*Verifier)(nil)
