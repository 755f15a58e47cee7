package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultSessionTTL = 12 * time.Hour

var (
	errMissingSigningSecret = errors.New("session issuer: signing secret required")
	errMissingIssuer        = errors.New("session issuer: issuer required")
	errMissingSubject       = errors.New("session issuer: user identifier required")
)

// SessionIssuerConfig configures session token issuance.
type SessionIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	SessionTTL    time.Duration
	Clock         func() time.Time
}

// SessionIssuer signs the session JWTs accepted by SessionValidator. It backs
// the development login endpoint and test setups; production deployments
// normally receive sessions from an external identity front sharing the
// signing secret.
type SessionIssuer struct {
	signingSecret []byte
	issuer        string
	ttl           time.Duration
	clock         func() time.Time
}

// NewSessionIssuer constructs an issuer with sane defaults.
func NewSessionIssuer(cfg SessionIssuerConfig) (*SessionIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errMissingIssuer
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// Issue produces a signed session token and its expiry for the given identity.
func (i *SessionIssuer) Issue(claims SessionClaims) (string, time.Time, error) {
	if strings.TrimSpace(claims.UserID) == "" {
		return "", time.Time{}, errMissingSubject
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)

	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.UserID,
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
