package ledger

import (
	"errors"
	"testing"
)

func TestParseBitcoinMsats(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		raw     string
		want    int64
		wantErr error
	}{
		{name: "zero", raw: "0", want: 0},
		{name: "plain", raw: "1000", want: 1000},
		{name: "padded", raw: "  250 ", want: 250},
		{name: "empty", raw: "", wantErr: ErrInvalidAmount},
		{name: "negative", raw: "-5", wantErr: ErrInvalidAmount},
		{name: "fraction", raw: "1.5", wantErr: ErrInvalidAmount},
		{name: "word", raw: "lots", wantErr: ErrInvalidAmount},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			wad, err := ParseBitcoinMsats(testCase.raw)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("parse: %v", err)
			}
			if wad.Msats != testCase.want || wad.AssetStable {
				test.Fatalf("unexpected wad %+v", wad)
			}
		})
	}
}

func TestParseCapTreatsNoneAsUnlimited(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"", "none", "NONE"} {
		wad, err := ParseCap(raw)
		if err != nil {
			test.Fatalf("parse cap %q: %v", raw, err)
		}
		if !wad.IsZero() {
			test.Fatalf("expected unlimited cap for %q, got %+v", raw, wad)
		}
	}
	wad, err := ParseCap("5000")
	if err != nil || wad.Msats != 5000 {
		test.Fatalf("expected 5000 msats cap, got %+v (%v)", wad, err)
	}
}

func TestWadRequireBitcoin(test *testing.T) {
	test.Parallel()
	if err := Bitcoin(1).RequireBitcoin(); err != nil {
		test.Fatalf("bitcoin wad rejected: %v", err)
	}
	if err := (Wad{Msats: 1, AssetStable: true}).RequireBitcoin(); !errors.Is(err, ErrNonBitcoinWad) {
		test.Fatalf("expected ErrNonBitcoinWad, got %v", err)
	}
}

func TestWadString(test *testing.T) {
	test.Parallel()
	if got := Bitcoin(21000).String(); got != "21 sat" {
		test.Fatalf("unexpected %q", got)
	}
	if got := Bitcoin(1500).String(); got != "1.500 sat" {
		test.Fatalf("unexpected %q", got)
	}
}
