// Package auth issues and validates the bearer tokens used by owners and
// guests.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for any token that fails validation.
var ErrInvalidToken = errors.New("invalid token")

// TokenType separates owner access tokens from guest tokens.
type TokenType string

const (
	TokenAccess TokenType = "access"
	TokenGuest  TokenType = "guest"
)

const issuer = "wishlist"

// Claims represents JWT claims for both token types
type Claims struct {
	Type       TokenType `json:"type"`
	WishlistID string    `json:"wishlist_id,omitempty"`
	jwt.RegisteredClaims
}

// GuestIdentity is what a valid guest token proves.
type GuestIdentity struct {
	SessionID  uuid.UUID
	WishlistID uuid.UUID
}

// Issuer signs tokens with an HMAC key.
type Issuer struct {
	signingKey []byte
	accessTTL  time.Duration
	guestTTL   time.Duration
	now        func() time.Time
}

// NewIssuer creates a new token issuer
func NewIssuer(signingKey string, accessTTL, guestTTL time.Duration) *Issuer {
	return &Issuer{
		signingKey: []byte(signingKey),
		accessTTL:  accessTTL,
		guestTTL:   guestTTL,
		now:        time.Now,
	}
}

// IssueAccess creates an owner access token for userID.
func (i *Issuer) IssueAccess(userID uuid.UUID) (string, error) {
	return i.sign(Claims{Type: TokenAccess}, userID.String(), i.accessTTL)
}

// IssueGuest creates a guest token bound to one wishlist.
func (i *Issuer) IssueGuest(sessionID, wishlistID uuid.UUID) (string, error) {
	return i.sign(Claims{Type: TokenGuest, WishlistID: wishlistID.String()}, sessionID.String(), i.guestTTL)
}

func (i *Issuer) sign(claims Claims, subject string, ttl time.Duration) (string, error) {
	now := i.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		NotBefore: jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", claims.Type, err)
	}
	return signed, nil
}

// ParseAccess validates an access token and returns the user id.
func (i *Issuer) ParseAccess(tokenString string) (uuid.UUID, error) {
	claims, err := i.parse(tokenString, TokenAccess)
	if err != nil {
		return uuid.Nil, err
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return userID, nil
}

// ParseGuest validates a guest token. It does not check that the session
// is still active; the service does that against the store.
func (i *Issuer) ParseGuest(tokenString string) (*GuestIdentity, error) {
	claims, err := i.parse(tokenString, TokenGuest)
	if err != nil {
		return nil, err
	}
	sessionID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	wishlistID, err := uuid.Parse(claims.WishlistID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return &GuestIdentity{SessionID: sessionID, WishlistID: wishlistID}, nil
}

func (i *Issuer) parse(tokenString string, want TokenType) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return i.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Type != want || claims.Issuer != issuer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
