// Package auth issues and validates the JWTs that carry a chat session
package auth

import (
	"context"
	"net/url"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/jwa"
	"github.com/lestrrat-go/jwx/jwk"
	"github.com/lestrrat-go/jwx/jwt"
	"github.com/pkg/errors"

	"github.com/d4l-data4life/go-svc/pkg/logging"
)

var (
	ErrNoKeyRegistry   = errors.New("no remote key registry configured")
	ErrInvalidJWTKey   = errors.New("invalid JWT key")
	ErrTokenValidation = errors.New("token validation failed")
	ErrMissingSubject  = errors.New("token missing required user identifier claims (oid, sub, or email)")
)

// TokenValidator defines the interface for validating JWT tokens
type TokenValidator interface {
	ValidateJWT(token string) (*jwt.Token, error)
}

// LocalJWTValidator validates JWTs signed with the service's own HS256 secret
type LocalJWTValidator struct {
	jwtSecret []byte
}

// NewLocalJWTValidator creates a new local JWT validator with the provided signing key
func NewLocalJWTValidator(jwtSecret []byte) (*LocalJWTValidator, error) {
	if len(jwtSecret) == 0 {
		return nil, ErrInvalidJWTKey
	}
	return &LocalJWTValidator{
		jwtSecret: jwtSecret,
	}, nil
}

// ValidateJWT checks signature and expiry of a token signed with the local key
func (v *LocalJWTValidator) ValidateJWT(token string) (*jwt.Token, error) {
	t, err := jwt.Parse(
		[]byte(token),
		jwt.WithValidate(true),
		jwt.WithVerify(jwa.HS256, v.jwtSecret),
	)
	if err != nil {
		return nil, errors.Wrap(ErrTokenValidation, err.Error())
	}
	return &t, nil
}

// RemoteKeyStore validates tokens against a JWKS published by an identity provider
type RemoteKeyStore struct {
	keyStore *jwk.AutoRefresh
	uri      string
}

// NewRemoteKeyStore fetches the key set at uri once and keeps it refreshed
func NewRemoteKeyStore(ctx context.Context, uri string) (*RemoteKeyStore, error) {
	logging.LogInfofCtx(ctx, "attempting to create remote Key Store.")
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrap(err, "parsing key store URL")
	}

	if u.Scheme != "https" {
		return nil, errors.New("key store URL must use HTTPS protocol")
	}

	ks := RemoteKeyStore{
		keyStore: jwk.NewAutoRefresh(ctx),
		uri:      uri,
	}

	ks.keyStore.Configure(ks.uri)

	set, err := ks.keyStore.Refresh(ctx, ks.uri)
	if err != nil {
		return nil, errors.Wrap(err, "fetching remote keys")
	}

	logging.LogInfofCtx(ctx, "remote Key Store initialized. # of retrieved keys: %d", set.Len())

	return &ks, nil
}

// ValidateJWT checks a token against the remote key set
func (ks *RemoteKeyStore) ValidateJWT(token string) (*jwt.Token, error) {
	if ks.keyStore == nil {
		return nil, ErrNoKeyRegistry
	}

	// Fetch honors the HTTP cache headers of the keys endpoint
	set, err := ks.keyStore.Fetch(context.Background(), ks.uri)
	if err != nil {
		return nil, errors.Wrap(err, "fetching remote keys")
	}

	t, err := jwt.Parse([]byte(token),
		jwt.WithValidate(true),
		jwt.InferAlgorithmFromKey(true),
		jwt.WithKeySet(set))
	if err != nil {
		return nil, errors.Wrap(ErrTokenValidation, err.Error())
	}
	return &t, nil
}

// UserID extracts the user of a validated token. Identity providers put it in
// oid, sub or email; identifiers that are not UUIDs are mapped onto a stable
// name-based UUID.
func UserID(token jwt.Token) (uuid.UUID, error) {
	var subject string
	for _, claim := range []string{"oid", jwt.SubjectKey, "email"} {
		if v, ok := token.Get(claim); ok {
			if s, ok := v.(string); ok && s != "" {
				subject = s
				break
			}
		}
	}
	if subject == "" {
		return uuid.Nil, ErrMissingSubject
	}

	userID, err := uuid.Parse(subject)
	if err != nil {
		userID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(subject))
	}
	return userID, nil
}
