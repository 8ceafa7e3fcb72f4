package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// SharedSeed identifies a logical channel between a client and an account.
type SharedSeed [sharedSeedLength]byte

// NewSharedSeed generates a random shared seed.
func NewSharedSeed() (SharedSeed, error) {
	var seed SharedSeed
	if _, err := rand.Read(seed[:]); err != nil {
		return SharedSeed{}, fmt.Errorf("generate shared seed: %w", err)
	}
	return seed, nil
}

// ParseSharedSeed decodes a hex shared seed.
func ParseSharedSeed(raw string) (SharedSeed, error) {
	decoded, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return SharedSeed{}, fmt.Errorf("%w: %q", ErrInvalidSharedSeed, raw)
	}
	if len(decoded) != sharedSeedLength {
		return SharedSeed{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSharedSeed, sharedSeedLength, len(decoded))
	}
	var seed SharedSeed
	copy(seed[:], decoded)
	return seed, nil
}

// String returns the hex encoding, which is also the persisted form.
func (seed SharedSeed) String() string {
	return hex.EncodeToString(seed[:])
}
