package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sign produces the cookie value "{id}.{hex(hmac-sha256(secret, id))}". The
// signature lets ingress reject forged ids without a session lookup.
func Sign(secret, id string) string {
	return id + "." + signature(secret, id)
}

// Verify splits and checks a signed cookie value, returning the embedded id.
// Comparison is constant-time.
func Verify(secret, signed string) (string, bool) {
	dot := strings.LastIndexByte(signed, '.')
	if dot <= 0 || dot == len(signed)-1 {
		return "", false
	}
	id, sig := signed[:dot], signed[dot+1:]
	if !hmac.Equal([]byte(sig), []byte(signature(secret, id))) {
		return "", false
	}
	return id, true
}

func signature(secret, id string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))
}
