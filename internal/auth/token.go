// Package auth implements the identity.Verifier collaborator with
// HMAC-signed expiring tokens. Token format:
// base64url(claims JSON) "." base64url(HMAC-SHA256(claims, secret)).
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/Tq-Khanhs/Backend-messaging-app/internal/fault"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/identity"
)

type claims struct {
	UserID      string `json:"uid"`
	DisplayName string `json:"name"`
	AvatarURL   string `json:"avatar,omitempty"`
	ExpiresAt   int64  `json:"exp"`
}

// Issuer mints and verifies connection credentials.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer creates an issuer with the given signing secret and token lifetime.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Issue mints a signed token binding the identity until the TTL elapses.
func (i *Issuer) Issue(id identity.Identity) (string, error) {
	c := claims{
		UserID:      id.ID,
		DisplayName: id.DisplayName,
		AvatarURL:   id.AvatarURL,
		ExpiresAt:   time.Now().Add(i.ttl).Unix(),
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + i.sign(encoded), nil
}

// Verify validates a presented token and yields the identity bound to it.
// Every failure mode is an Authentication fault; callers refuse the
// connection before any registry mutation.
func (i *Issuer) Verify(token string) (identity.Identity, error) {
	var id identity.Identity

	encoded, sig, ok := strings.Cut(token, ".")
	if !ok || encoded == "" {
		return id, fault.New(fault.Authentication, "malformed credential")
	}
	if !hmac.Equal([]byte(i.sign(encoded)), []byte(sig)) {
		return id, fault.New(fault.Authentication, "bad signature")
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return id, fault.Wrap(fault.Authentication, err, "malformed credential")
	}
	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return id, fault.Wrap(fault.Authentication, err, "malformed credential")
	}
	if c.UserID == "" {
		return id, fault.New(fault.Authentication, "credential missing identity")
	}
	if time.Now().Unix() >= c.ExpiresAt {
		return id, fault.New(fault.Authentication, "credential expired")
	}

	id.ID = c.UserID
	id.DisplayName = c.DisplayName
	id.AvatarURL = c.AvatarURL
	return id, nil
}

func (i *Issuer) sign(encoded string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
