package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/jwa"
	"github.com/lestrrat-go/jwx/jwt"
	"github.com/pkg/errors"
)

// Issuer is the name written into the iss claim of session tokens
const Issuer = "go-chat-host"

// TokenIssuer signs session tokens with the local HS256 secret
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer whose tokens expire after expiry
func NewTokenIssuer(secret []byte, expiry time.Duration) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, ErrInvalidJWTKey
	}
	return &TokenIssuer{secret: secret, expiry: expiry, now: time.Now}, nil
}

// Issue returns a signed token for userID and its expiry time
func (i *TokenIssuer) Issue(userID uuid.UUID) (string, time.Time, error) {
	issuedAt := i.now()
	expiresAt := issuedAt.Add(i.expiry)

	token := jwt.New()
	claims := map[string]interface{}{
		jwt.SubjectKey:    userID.String(),
		jwt.IssuerKey:     Issuer,
		jwt.IssuedAtKey:   issuedAt,
		jwt.ExpirationKey: expiresAt,
	}
	for name, value := range claims {
		if err := token.Set(name, value); err != nil {
			return "", time.Time{}, errors.Wrapf(err, "setting claim %s", name)
		}
	}

	signed, err := jwt.Sign(token, jwa.HS256, i.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "signing token")
	}
	return string(signed), expiresAt, nil
}
