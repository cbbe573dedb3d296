package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Token is a signed, time-bound identity credential. Its wire form is
// "identity.issuedAtMillis.signature" where the signature is an HMAC-SHA256
// over the first two fields. The signature proves origin; whether the token
// is the identity's current one is confirmed against the store.
type Token struct {
	Identity string
	IssuedAt time.Time
	Raw      string
}

// Encode signs identity and issuedAt into the wire form.
func Encode(secret []byte, identity string, issuedAt time.Time) string {
	ms := strconv.FormatInt(issuedAt.UnixMilli(), 10)
	return identity + "." + ms + "." + sign(secret, identity, ms)
}

// Decode parses and cryptographically verifies a wire token. It does not
// consult the store; callers needing the single-active-token guarantee go
// through Service.Validate.
func Decode(secret []byte, raw string) (Token, bool) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Token{}, false
	}
	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Token{}, false
	}
	if !hmac.Equal([]byte(parts[2]), []byte(sign(secret, parts[0], parts[1]))) {
		return Token{}, false
	}
	return Token{Identity: parts[0], IssuedAt: time.UnixMilli(ms), Raw: raw}, true
}

func sign(secret []byte, identity, ms string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(identity + "." + ms))
	return hex.EncodeToString(mac.Sum(nil))
}
