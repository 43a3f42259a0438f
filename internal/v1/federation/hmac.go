// Package federation implements cross-server room joins: the compact
// peer-to-peer packet codec, the single-use transfer ticket store, the
// remote-room cache fed by gossip, and the HTTP prepare surface.
package federation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// MACSize is the truncated HMAC length carried on packets and prepare
// requests: HMAC-SHA256 cut to 96 bits.
const MACSize = 12

// sign computes the 96-bit HMAC-SHA256 of data.
func sign(secret, data []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return mac.Sum(nil)[:MACSize]
}

// verify compares a received MAC in constant time.
func verify(secret, data, received []byte) bool {
	return hmac.Equal(sign(secret, data), received)
}

// SignHex returns the hex form of the truncated MAC, used in the
// X-Fed-HMAC header.
func SignHex(secret, data []byte) string {
	return hex.EncodeToString(sign(secret, data))
}

// VerifyHex checks a hex MAC in constant time.
func VerifyHex(secret, data []byte, receivedHex string) bool {
	received, err := hex.DecodeString(receivedHex)
	if err != nil || len(received) != MACSize {
		return false
	}
	return verify(secret, data, received)
}
