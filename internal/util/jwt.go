package util

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims the storefront issues.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenValidator validates bearer tokens signed with a shared HMAC secret or
// with the matching RSA/ECDSA public key.
type TokenValidator struct {
	secret []byte
	rsaKey *rsa.PublicKey
	ecKey  *ecdsa.PublicKey
}

// NewTokenValidator parses keyMaterial once. A PEM public key enables RS*/ES*
// tokens; anything else is treated as an HMAC secret.
func NewTokenValidator(keyMaterial string) (*TokenValidator, error) {
	if keyMaterial == "" {
		return nil, errors.New("token key material is empty")
	}
	block, _ := pem.Decode([]byte(keyMaterial))
	if block == nil {
		return &TokenValidator{secret: []byte(keyMaterial)}, nil
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	switch key := pub.(type) {
	case *rsa.PublicKey:
		return &TokenValidator{rsaKey: key}, nil
	case *ecdsa.PublicKey:
		return &TokenValidator{ecKey: key}, nil
	default:
		return nil, fmt.Errorf("unsupported public key type %T", pub)
	}
}

// Validate checks the signature and expiry and returns the claims. Tokens
// without a subject are rejected since the subject is the user id.
func (v *TokenValidator) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func (v *TokenValidator) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if v.secret != nil {
			return v.secret, nil
		}
	case *jwt.SigningMethodRSA:
		if v.rsaKey != nil {
			return v.rsaKey, nil
		}
	case *jwt.SigningMethodECDSA:
		if v.ecKey != nil {
			return v.ecKey, nil
		}
	}
	return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
}
