package dispatch

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/perimeterd/perimeterd/internal/access"
	perrs "github.com/perimeterd/perimeterd/internal/platform/errors"
)

// ContextResolver binds a security context to a request. The token is the
// caller's credential when the front-end carries one, empty otherwise.
type ContextResolver interface {
	Resolve(token string) (access.Context, error)
}

// StaticResolver grants every request the same fixed identity and level.
// It backs deployments where the process boundary is the trust boundary.
type StaticResolver struct {
	CallerID string
	Level    access.Level
}

// Resolve implements ContextResolver.
func (s StaticResolver) Resolve(string) (access.Context, error) {
	return access.NewContext(s.CallerID, s.Level, "static"), nil
}

// accessClaims are the JWT claims perimeterd tokens carry.
type accessClaims struct {
	AccessLevel string `json:"access_level"`
	jwt.RegisteredClaims
}

// TokenResolver derives the caller's identity and level from a signed token.
type TokenResolver struct {
	// Secret is the HMAC key tokens must be signed with.
	Secret []byte
	// Issuer, when set, must match the token's iss claim.
	Issuer string
}

// Resolve implements ContextResolver. Any defect in the token, bad
// signature, wrong algorithm, unknown level, or missing subject, yields an
// invalid-context error without a fallback level.
func (t TokenResolver) Resolve(token string) (access.Context, error) {
	if token == "" {
		return access.Context{}, perrs.New(perrs.CodeContextInvalid, "missing access token")
	}

	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if t.Issuer != "" {
		options = append(options, jwt.WithIssuer(t.Issuer))
	}
	claims := &accessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.Secret, nil
	}, options...)
	if err != nil {
		return access.Context{}, perrs.Wrap(perrs.CodeContextInvalid, "parse access token", err)
	}
	if !parsed.Valid {
		return access.Context{}, perrs.New(perrs.CodeContextInvalid, "invalid access token")
	}

	if claims.Subject == "" {
		return access.Context{}, perrs.New(perrs.CodeContextInvalid, "token has no subject")
	}
	level, err := access.ParseLevel(claims.AccessLevel)
	if err != nil {
		return access.Context{}, perrs.Wrap(perrs.CodeContextInvalid,
			fmt.Sprintf("token carries unknown access level %q", claims.AccessLevel), err)
	}
	return access.NewContext(claims.Subject, level, "token"), nil
}
