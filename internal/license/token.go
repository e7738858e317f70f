package license

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// TokenLength is the length of every session token
const TokenLength = sha256.Size * 2

// GenerateToken derives a session token from 32 fresh random bytes and the
// key:device:timestamp tuple. The randomness alone makes tokens unguessable.
func GenerateToken(licenseKey, deviceID string, now time.Time) (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate token entropy: %w", err)
	}

	h := sha256.New()
	h.Write(nonce)
	h.Write([]byte(licenseKey + ":" + deviceID + ":" + strconv.FormatInt(now.UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil)), nil
}
