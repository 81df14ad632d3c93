package obs

import (
	"crypto/sha256"
	"encoding/hex"

	"go.uber.org/zap"
)

// Fingerprint identifies a credential without revealing it.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return "sha256:" + hex.EncodeToString(sum[:4])
}

// TokenField logs a short fingerprint of a credential instead of its value.
func TokenField(key, token string) zap.Field {
	return zap.String(key, Fingerprint(token))
}
