// Package obfuscate reversibly encodes sensitive settings fields before they
// are written into transfer documents.
//
// This is NOT cryptographic protection. The transform is a fixed-key XOR
// followed by base64, trivially reversible by anyone who reads this source.
// Its only purpose is keeping credentials out of plain-text grep results in
// exported files. Anything that needs real secrecy must be protected by the
// caller before it reaches this package.
package obfuscate

import (
	"encoding/base64"
	"fmt"
)

// key is deliberately public knowledge; changing it breaks decoding of
// previously exported documents.
var key = []byte("myaipanel.settings.v1")

// Encode obfuscates s. The empty string encodes to the empty string, so
// Decode(Encode(s)) == s for every string.
func Encode(s string) string {
	if s == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString(mix([]byte(s)))
}

// Decode reverses Encode. Malformed or truncated input yields an error;
// callers are expected to substitute the empty string rather than fail the
// surrounding operation.
func Decode(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("decode obfuscated field: %w", err)
	}
	return string(mix(raw)), nil
}

// mix XORs b in place against the rotating key. XOR is its own inverse, so
// the same pass both obfuscates and restores.
func mix(b []byte) []byte {
	for i := range b {
		b[i] ^= key[i%len(key)]
	}
	return b
}
