package ledger

import (
	"fmt"
	"strconv"
	"strings"
)

const msatsPerSat = 1000

// Wad is an amount in millisatoshis tagged with an asset-stability flag.
// The ledger only holds bitcoin wads (AssetStable == false).
type Wad struct {
	Msats       int64 `json:"msats"`
	AssetStable bool  `json:"asset_stable"`
}

// Bitcoin returns a bitcoin-denominated wad.
func Bitcoin(msats int64) Wad {
	return Wad{Msats: msats}
}

// ParseBitcoinMsats parses a decimal millisatoshi string into a bitcoin wad.
// Negative and non-integer values are rejected.
func ParseBitcoinMsats(raw string) (Wad, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Wad{}, fmt.Errorf("%w: empty value", ErrInvalidAmount)
	}
	msats, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return Wad{}, fmt.Errorf("%w: could not parse msats: %q", ErrInvalidAmount, raw)
	}
	if msats < 0 {
		return Wad{}, fmt.Errorf("%w: negative msats: %d", ErrInvalidAmount, msats)
	}
	return Bitcoin(msats), nil
}

// ParseCap parses a cap value where "none" or an empty string means unlimited.
func ParseCap(raw string) (Wad, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, capNone) {
		return Bitcoin(0), nil
	}
	return ParseBitcoinMsats(trimmed)
}

// RequireBitcoin rejects asset-stable wads.
func (wad Wad) RequireBitcoin() error {
	if wad.AssetStable {
		return ErrNonBitcoinWad
	}
	return nil
}

// IsZero reports whether the wad holds no value.
func (wad Wad) IsZero() bool {
	return wad.Msats == 0
}

// String renders the wad the way operators read balances.
func (wad Wad) String() string {
	if wad.AssetStable {
		return fmt.Sprintf("%d msat (stable)", wad.Msats)
	}
	if wad.Msats%msatsPerSat == 0 {
		return fmt.Sprintf("%d sat", wad.Msats/msatsPerSat)
	}
	return fmt.Sprintf("%d.%03d sat", wad.Msats/msatsPerSat, wad.Msats%msatsPerSat)
}
