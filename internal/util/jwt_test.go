package util

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signHS256(t *testing.T, secret, subject string, exp time.Time) string {
	t.Helper()
	claims := Claims{
		Email: "shopper@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func TestValidateHMAC(t *testing.T) {
	v, err := NewTokenValidator("top-secret")
	if err != nil {
		t.Fatalf("NewTokenValidator returned error: %v", err)
	}

	claims, err := v.Validate(signHS256(t, "top-secret", "user-42", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if claims.Subject != "user-42" || claims.Email != "shopper@example.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestValidateRejects(t *testing.T) {
	v, err := NewTokenValidator("top-secret")
	if err != nil {
		t.Fatalf("NewTokenValidator returned error: %v", err)
	}

	cases := map[string]string{
		"wrong secret": signHS256(t, "other", "user-42", time.Now().Add(time.Hour)),
		"expired":      signHS256(t, "top-secret", "user-42", time.Now().Add(-time.Minute)),
		"no subject":   signHS256(t, "top-secret", "", time.Now().Add(time.Hour)),
		"garbage":      "not-a-token",
	}
	for name, token := range cases {
		if _, err := v.Validate(token); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestValidateECDSA(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshaling public key: %v", err)
	}
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	v, err := NewTokenValidator(pemKey)
	if err != nil {
		t.Fatalf("NewTokenValidator returned error: %v", err)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
		Subject:   "user-7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(priv)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	claims, err := v.Validate(token)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if claims.Subject != "user-7" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}

	// An HMAC token must not be accepted by an ECDSA validator.
	if _, err := v.Validate(signHS256(t, pemKey, "user-7", time.Now().Add(time.Hour))); err == nil {
		t.Fatal("expected HMAC token to be rejected")
	}
}
