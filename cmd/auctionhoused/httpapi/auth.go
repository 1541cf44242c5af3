package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/textileio/auctionhouse/auction"
)

// PartyHeader carries the caller identity when the API runs without
// authentication.
const PartyHeader = "X-Party-ID"

// ErrUnauthenticated indicates a request without a valid caller identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves the party that issued a request.
type Authenticator interface {
	Authenticate(r *http.Request) (auction.PartyID, error)
}

// JWTAuthenticator accepts HS256 bearer tokens whose subject is the caller's
// party id.
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator returns an authenticator that verifies tokens with secret.
func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (auction.PartyID, error) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return auction.PartyID{}, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}
	var claims jwt.StandardClaims
	_, err := jwt.ParseWithClaims(strings.TrimPrefix(h, "Bearer "), &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return auction.PartyID{}, fmt.Errorf("%w: %s", ErrUnauthenticated, err)
	}
	p, err := auction.ParsePartyID(claims.Subject)
	if err != nil {
		return auction.PartyID{}, fmt.Errorf("%w: subject: %s", ErrUnauthenticated, err)
	}
	return p, nil
}

// NewToken issues a token for party signed with secret. A zero ttl issues a
// token that doesn't expire.
func NewToken(secret string, party auction.PartyID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.StandardClaims{
		Subject:  party.String(),
		IssuedAt: now.Unix(),
	}
	if ttl > 0 {
		claims.ExpiresAt = now.Add(ttl).Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %s", err)
	}
	return token, nil
}

// HeaderAuthenticator trusts the party id in the X-Party-ID header. It's only
// meant for development.
type HeaderAuthenticator struct{}

// Authenticate implements Authenticator.
func (HeaderAuthenticator) Authenticate(r *http.Request) (auction.PartyID, error) {
	v := r.Header.Get(PartyHeader)
	if v == "" {
		return auction.PartyID{}, fmt.Errorf("%w: missing %s header", ErrUnauthenticated, PartyHeader)
	}
	p, err := auction.ParsePartyID(v)
	if err != nil {
		return auction.PartyID{}, fmt.Errorf("%w: %s", ErrUnauthenticated, err)
	}
	return p, nil
}
