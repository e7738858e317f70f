package license

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"
)

const (
	auditKeyLength    = 20
	auditDeviceLength = 50
	ipHashLength      = 16
)

// Pseudonymizer hashes client IPs with a keyed BLAKE2b so stored digests cannot be
// reversed by enumerating the IPv4 space without the salt.
type Pseudonymizer struct {
	key       []byte
	ephemeral bool
}

// NewPseudonymizer derives the hash key from the configured salt. Without a salt a
// random one is used, so digests do not survive a restart.
func NewPseudonymizer(salt string) *Pseudonymizer {
	ephemeral := salt == ""
	seed := []byte(salt)
	if ephemeral {
		seed = make([]byte, 16)
		_, _ = rand.Read(seed)
	}
	// blake2b keys are limited to 64 bytes
	key := sha256.Sum256(seed)
	return &Pseudonymizer{key: key[:], ephemeral: ephemeral}
}

// Ephemeral reports whether the salt was generated for this process
func (p *Pseudonymizer) Ephemeral() bool {
	return p.ephemeral
}

// HashIP returns a short stable digest of ip; empty input stays empty
func (p *Pseudonymizer) HashIP(ip string) string {
	if ip == "" {
		return ""
	}
	h, err := blake2b.New256(p.key)
	if err != nil {
		// Unreachable: the key is always 32 bytes
		panic(err)
	}
	h.Write([]byte(ip))
	return hex.EncodeToString(h.Sum(nil))[:ipHashLength]
}

// maskKey keeps the first and last four characters of a license key for logs
func maskKey(key string) string {
	r := []rune(key)
	if len(r) <= 8 {
		return "****"
	}
	return string(r[:4]) + "****" + string(r[len(r)-4:])
}

// truncate keeps the first n runes so the result stays valid UTF-8
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// auditKey and auditDevice bound what the validation log keeps of raw identifiers
func auditKey(key string) string       { return truncate(key, auditKeyLength) }
func auditDevice(device string) string { return truncate(device, auditDeviceLength) }
