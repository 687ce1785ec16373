package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garvis/router/config"
	"github.com/garvis/router/middleware"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when no validator accepts the token
	ErrInvalidToken = errors.New("invalid token")

	// ErrNoCredentials is returned by the validator used when auth is not configured
	ErrNoCredentials = errors.New("gateway has no credentials configured")
)

const (
	MethodStatic = "static"
	MethodJWT    = "jwt"
)

// StaticTokenValidator accepts a fixed set of tokens. Comparison is constant time
// over SHA-256 digests, so neither token contents nor lengths leak through timing.
type StaticTokenValidator struct {
	digests [][sha256.Size]byte
}

// NewStaticTokenValidator creates a validator for tokens. Blank entries are ignored.
func NewStaticTokenValidator(tokens []string) *StaticTokenValidator {
	v := &StaticTokenValidator{}
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			v.digests = append(v.digests, sha256.Sum256([]byte(t)))
		}
	}
	return v
}

// ValidateToken implements middleware.TokenValidator
func (v *StaticTokenValidator) ValidateToken(_ context.Context, token string) (*middleware.Principal, error) {
	digest := sha256.Sum256([]byte(token))
	match := 0
	for i := range v.digests {
		match |= subtle.ConstantTimeCompare(digest[:], v.digests[i][:])
	}
	if match != 1 {
		return nil, ErrInvalidToken
	}
	return &middleware.Principal{
		Subject: fmt.Sprintf("token:%x", digest[:4]),
		Method:  MethodStatic,
	}, nil
}

// JWTValidator accepts HS256 tokens signed with a shared secret.
type JWTValidator struct {
	secret []byte
	issuer string
}

// NewJWTValidator creates a validator. issuer, when set, must match the iss claim.
func NewJWTValidator(secret, issuer string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret), issuer: issuer}
}

// ValidateToken implements middleware.TokenValidator. exp is required.
func (v *JWTValidator) ValidateToken(_ context.Context, token string) (*middleware.Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	return &middleware.Principal{
		Subject: claims.Subject,
		Method:  MethodJWT,
		Issuer:  claims.Issuer,
	}, nil
}

// IssueToken signs an HS256 token for subject, valid for ttl.
func IssueToken(secret, issuer, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ChainValidator tries each validator in order and accepts the first success.
type ChainValidator []middleware.TokenValidator

// ValidateToken implements middleware.TokenValidator
func (c ChainValidator) ValidateToken(ctx context.Context, token string) (*middleware.Principal, error) {
	errs := make([]error, 0, len(c))
	for _, v := range c {
		p, err := v.ValidateToken(ctx, token)
		if err == nil {
			return p, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrNoCredentials
	}
	return nil, errors.Join(errs...)
}

// NewValidator builds the gateway validator from configuration. With nothing
// configured every token is rejected.
func NewValidator(cfg config.AuthConfig) middleware.TokenValidator {
	var chain ChainValidator
	if len(cfg.Tokens) > 0 {
		chain = append(chain, NewStaticTokenValidator(cfg.Tokens))
	}
	if cfg.JWTSecret != "" {
		chain = append(chain, NewJWTValidator(cfg.JWTSecret, cfg.JWTIssuer))
	}
	return chain
}
