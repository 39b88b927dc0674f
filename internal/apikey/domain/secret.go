package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Issued keys look like cc_live_<key id>_<64 hex chars>.
const (
	SecretPrefix = "cc_live_"
	secretBytes  = 32
	keyIDPrefix  = "key_"
)

// HashAPIKey is the lookup digest stored in place of the raw key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewKeyID derives the public key id from the row id.
func NewKeyID(id snowflake.ID) string {
	return keyIDPrefix + strings.ToUpper(strconv.FormatInt(int64(id), 36))
}

// GenerateSecret returns a fresh raw key for keyID and its digest.
func GenerateSecret(keyID string) (raw string, hash string, err error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = SecretPrefix + strings.TrimPrefix(keyID, keyIDPrefix) + "_" + hex.EncodeToString(buf)
	return raw, HashAPIKey(raw), nil
}

// KeyIDFromSecret recovers the key id embedded in an issued key. Bootstrap
// keys come from the environment and carry none.
func KeyIDFromSecret(raw string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(raw), SecretPrefix)
	if !ok {
		return "", false
	}
	id, secret, ok := strings.Cut(rest, "_")
	if !ok || id == "" || len(secret) != secretBytes*2 {
		return "", false
	}
	return keyIDPrefix + id, true
}
