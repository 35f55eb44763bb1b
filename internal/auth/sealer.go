package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"os"
	"sync"

	"github.com/gorilla/securecookie"
)

// Errors for credential sealing
var (
	ErrMissingSealKey = errors.New("seal keys not configured")
	ErrInvalidSealKey = errors.New("invalid seal key format")
)

// SealerConfig holds sealer configuration
type SealerConfig struct {
	// HashKeyHex and BlockKeyHex override the SEAL_HASH_KEY / SEAL_BLOCK_KEY
	// environment variables when set.
	HashKeyHex  string
	BlockKeyHex string
	// AllowInsecureKeys allows random key generation in dev mode.
	// Passwords sealed with random keys cannot be opened after a restart.
	AllowInsecureKeys bool
}

// Sealer encrypts and authenticates account passwords before they are
// written to the database.
type Sealer struct {
	sc *securecookie.SecureCookie
}

const sealName = "account-password"

// Track whether we've already warned about missing keys (warn only once)
var (
	keyWarningOnce sync.Once
	keyWarningMsg  string
)

// NewSealer creates a sealer from configured keys.
// In production (AllowInsecureKeys=false), returns error if keys are not configured.
func NewSealer(cfg SealerConfig) (*Sealer, error) {
	hashKey, err := getKey(cfg.HashKeyHex, "SEAL_HASH_KEY", 32, cfg.AllowInsecureKeys)
	if err != nil {
		return nil, err
	}

	blockKey, err := getKey(cfg.BlockKeyHex, "SEAL_BLOCK_KEY", 32, cfg.AllowInsecureKeys)
	if err != nil {
		return nil, err
	}

	keyWarningOnce.Do(func() {
		if keyWarningMsg != "" {
			log.Println(keyWarningMsg)
		}
	})

	sc := securecookie.New(hashKey, blockKey)
	// Sealed passwords live as long as the account does.
	sc.MaxAge(0)
	sc.MaxLength(0)

	return &Sealer{sc: sc}, nil
}

// getKey reads a hex key from the explicit value or environment, or
// generates a random one if allowed.
func getKey(explicit, envVar string, length int, allowRandom bool) ([]byte, error) {
	keyHex := explicit
	if keyHex == "" {
		keyHex = os.Getenv(envVar)
	}
	if keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, ErrInvalidSealKey
		}
		if len(key) < length {
			return nil, ErrInvalidSealKey
		}
		return key[:length], nil
	}

	if !allowRandom {
		return nil, ErrMissingSealKey
	}

	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}

	keyWarningMsg = "WARNING: Seal keys not configured. Using random keys - stored account passwords will not survive a restart. Set SEAL_HASH_KEY and SEAL_BLOCK_KEY for production."

	return key, nil
}

// Seal returns the at-rest form of a plaintext password.
func (s *Sealer) Seal(plaintext string) (string, error) {
	return s.sc.Encode(sealName, plaintext)
}

// Open reverses Seal. It fails if the value was tampered with or sealed
// under different keys.
func (s *Sealer) Open(sealed string) (string, error) {
	var plaintext string
	if err := s.sc.Decode(sealName, sealed, &plaintext); err != nil {
		return "", err
	}
	return plaintext, nil
}
