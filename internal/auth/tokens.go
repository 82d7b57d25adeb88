package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/keshly/keshly/internal/common"
)

// Token types carried in the typ claim.
const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
	TokenConfirm = "confirm"
)

var (
	ErrTokenExpired = fmt.Errorf("%w: token expired", common.ErrUnauthorized)
	ErrTokenInvalid = fmt.Errorf("%w: token invalid", common.ErrUnauthorized)
)

// Claims identifies the user a token was issued to.
type Claims struct {
	UserID string `json:"uid"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// Subject returns the user id carried by the token.
func (c *Claims) Subject() (uuid.UUID, error) {
	id, err := uuid.Parse(c.UserID)
	if err != nil {
		return uuid.Nil, ErrTokenInvalid
	}
	return id, nil
}

type tokenIssuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func (t *tokenIssuer) issue(userID uuid.UUID, typ string, ttl time.Duration) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(ttl)
	claims := Claims{
		UserID: userID.String(),
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, exp, nil
}

func (t *tokenIssuer) keyFunc(tok *jwt.Token) (any, error) {
	if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
	}
	return t.secret, nil
}

// parse validates signature, expiry, issuer and the expected token type.
func (t *tokenIssuer) parse(token, typ string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.Parser{}
	tok, err := parser.ParseWithClaims(token, claims, t.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !tok.Valid || claims.Type != typ {
		return nil, ErrTokenInvalid
	}
	if t.issuer != "" && claims.Issuer != t.issuer {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
