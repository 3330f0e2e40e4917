// Package cbtoken mints and verifies the bearer tokens that authorize the
// board's admin actions. There's a single shared admin password and a single
// "admin" role; tokens are self-authenticating HMACs, so nothing has to be
// stored server side.
package cbtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// Role is the role name embedded in every token. The board has exactly one
// level of authority.
const Role = "admin"

var (
	// ErrBadPassword is returned by Login on a password mismatch. It carries
	// no detail about how the password differed.
	ErrBadPassword = xerrors.New("admin password mismatch")

	// ErrTokenInvalid is returned by Verify for any token that doesn't check
	// out: undecodable, wrong field count, wrong role, or bad signature.
	// Callers deliberately get no more detail than that.
	ErrTokenInvalid = xerrors.New("admin token invalid")
)

// Authority mints admin tokens and verifies presented ones.
//
// A token is base64url (unpadded) over "admin:<issued unix ms>:<hex mac>"
// where the MAC is HMAC-SHA256 over "admin:<issued unix ms>" keyed with the
// authority's secret. Tokens never expire; rotating the secret is the only
// way to revoke them. That's an accepted trade-off for a board with a single
// trusted admin.
type Authority struct {
	password []byte
	secret   []byte

	// Injectable for testing.
	timeNow func() time.Time
}

// NewAuthority builds an authority around the server's MAC secret and the
// shared admin password.
func NewAuthority(secret, password string) *Authority {
	return &Authority{
		password: []byte(password),
		secret:   []byte(secret),
		timeNow:  time.Now,
	}
}

// Issue mints a fresh token stamped with the current time.
func (a *Authority) Issue() string {
	payload := Role + ":" + strconv.FormatInt(a.timeNow().UnixMilli(), 10)
	signed := payload + ":" + hex.EncodeToString(a.mac(payload))
	return base64.RawURLEncoding.EncodeToString([]byte(signed))
}

// Login checks the shared admin password in constant time and mints a token
// on success. An authority constructed with an empty password never logs
// anyone in.
func (a *Authority) Login(password string) (string, error) {
	if len(a.password) == 0 {
		return "", ErrBadPassword
	}
	if subtle.ConstantTimeCompare([]byte(password), a.password) != 1 {
		return "", ErrBadPassword
	}
	return a.Issue(), nil
}

// Verify checks a presented token: it must decode, carry exactly the three
// role/timestamp/signature fields, name the admin role, and its MAC must
// match in constant time. The timestamp is covered by the MAC but otherwise
// not inspected -- tokens don't expire.
func (a *Authority) Verify(token string) error {
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenInvalid
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 3 {
		return ErrTokenInvalid
	}
	role, stamp, macHex := parts[0], parts[1], parts[2]

	if role != Role {
		return ErrTokenInvalid
	}

	mac, err := hex.DecodeString(macHex)
	if err != nil {
		return ErrTokenInvalid
	}

	if !hmac.Equal(mac, a.mac(role+":"+stamp)) {
		return ErrTokenInvalid
	}

	return nil
}

func (a *Authority) mac(payload string) []byte {
	h := hmac.New(sha256.New, a.secret)
	h.Write([]byte(payload))
	return h.Sum(nil)
}
