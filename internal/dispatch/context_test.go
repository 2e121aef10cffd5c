package dispatch

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/perimeterd/perimeterd/internal/access"
	perrs "github.com/perimeterd/perimeterd/internal/platform/errors"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func signToken(t *testing.T, secret []byte, claims accessClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func validClaims() accessClaims {
	return accessClaims{
		AccessLevel: "SECURITY_WRITE",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "analyst",
			Issuer:    "perimeterd-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestStaticResolver(t *testing.T) {
	resolver := StaticResolver{CallerID: "local", Level: access.AdminWrite}
	ctx, err := resolver.Resolve("ignored")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ctx.CallerID != "local" || ctx.Level != access.AdminWrite || ctx.Origin != "static" {
		t.Errorf("context = %+v", ctx)
	}
}

func TestTokenResolverAcceptsValidToken(t *testing.T) {
	resolver := TokenResolver{Secret: testSecret, Issuer: "perimeterd-test"}
	ctx, err := resolver.Resolve(signToken(t, testSecret, validClaims()))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ctx.CallerID != "analyst" {
		t.Errorf("caller = %q, want analyst", ctx.CallerID)
	}
	if ctx.Level != access.SecurityWrite {
		t.Errorf("level = %v, want SECURITY_WRITE", ctx.Level)
	}
	if ctx.Origin != "token" {
		t.Errorf("origin = %q, want token", ctx.Origin)
	}
}

func TestTokenResolverRejects(t *testing.T) {
	resolver := TokenResolver{Secret: testSecret, Issuer: "perimeterd-test"}

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "someone-else"

	badLevel := validClaims()
	badLevel.AccessLevel = "SUPER_ADMIN"

	noSubject := validClaims()
	noSubject.Subject = ""

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage", token: "not.a.token"},
		{name: "wrong secret", token: signToken(t, []byte("another-secret-another-secret!!!"), validClaims())},
		{name: "expired", token: signToken(t, testSecret, expired)},
		{name: "wrong issuer", token: signToken(t, testSecret, wrongIssuer)},
		{name: "unknown level", token: signToken(t, testSecret, badLevel)},
		{name: "no subject", token: signToken(t, testSecret, noSubject)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolver.Resolve(tt.token)
			if err == nil {
				t.Fatal("Resolve() error = nil, want rejection")
			}
			if !errors.Is(err, perrs.New(perrs.CodeContextInvalid, "")) {
				t.Errorf("Resolve() error = %v, want invalid context code", err)
			}
		})
	}
}

func TestTokenResolverRejectsUnsignedToken(t *testing.T) {
	resolver := TokenResolver{Secret: testSecret}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := resolver.Resolve(unsigned); err == nil {
		t.Fatal("Resolve() accepted an unsigned token")
	}
}
