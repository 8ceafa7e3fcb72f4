package ledger

import (
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const (
	tlvTypeSharedSeed byte = 0x00
	tlvTypeWebSocket  byte = 0x01
	tlvTypeWebRTC     byte = 0x02
	tlvHeaderLength        = 3
)

// LocationType names the transport a beacon location is reached over.
type LocationType string

const (
	LocationTypeWebSocket LocationType = locationWebSocket
	LocationTypeWebRTC    LocationType = "WebRTC"
)

// Location is a network location carried in a beacon.
type Location struct {
	Type    LocationType `json:"type"`
	Address string       `json:"address"`
}

// NewWebSocketLocation validates a ws:// or wss:// address.
func NewWebSocketLocation(raw string) (Location, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrInvalidBeacon, err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return Location{}, fmt.Errorf("%w: scheme %q", ErrUnsupportedLocation, parsed.Scheme)
	}
	if parsed.Host == "" {
		return Location{}, fmt.Errorf("%w: missing host", ErrInvalidBeacon)
	}
	return Location{Type: LocationTypeWebSocket, Address: parsed.String()}, nil
}

// IsWebSocket reports whether the location can be dialled by the provider stack.
func (location Location) IsWebSocket() bool {
	return location.Type == LocationTypeWebSocket
}

// String returns the location address.
func (location Location) String() string {
	return location.Address
}

// Beacon combines a shared seed with the locations a peer can be reached at.
type Beacon struct {
	SharedSeed SharedSeed
	Locations  []Location
}

// NewBeacon returns a beacon for seed with the given locations.
func NewBeacon(seed SharedSeed, locations ...Location) Beacon {
	return Beacon{SharedSeed: seed, Locations: append([]Location(nil), locations...)}
}

// FirstLocation returns the location outgoing connections are made to.
func (beacon Beacon) FirstLocation() (Location, error) {
	if len(beacon.Locations) == 0 {
		return Location{}, fmt.Errorf("%w: no locations", ErrInvalidBeacon)
	}
	return beacon.Locations[0], nil
}

// Encode returns the bech32 form of the beacon.
func (beacon Beacon) Encode() (string, error) {
	payload := appendTLV(nil, tlvTypeSharedSeed, beacon.SharedSeed[:])
	for _, location := range beacon.Locations {
		tlvType := tlvTypeWebSocket
		if location.Type == LocationTypeWebRTC {
			tlvType = tlvTypeWebRTC
		}
		payload = appendTLV(payload, tlvType, []byte(location.Address))
	}
	converted, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBeacon, err)
	}
	encoded, err := bech32.Encode(beaconHRP, converted)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBeacon, err)
	}
	return encoded, nil
}

// String returns the canonical string form used as a map key and persisted value.
func (beacon Beacon) String() string {
	encoded, err := beacon.Encode()
	if err != nil {
		return ""
	}
	return encoded
}

// DecodeBeacon parses the bech32 form of a beacon.
func DecodeBeacon(raw string) (Beacon, error) {
	hrp, data, err := bech32.DecodeNoLimit(strings.TrimSpace(raw))
	if err != nil {
		return Beacon{}, fmt.Errorf("%w: %v", ErrInvalidBeacon, err)
	}
	if hrp != beaconHRP {
		return Beacon{}, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidBeacon, hrp)
	}
	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return Beacon{}, fmt.Errorf("%w: %v", ErrInvalidBeacon, err)
	}
	beacon := Beacon{}
	seenSeed := false
	for len(payload) > 0 {
		if len(payload) < tlvHeaderLength {
			return Beacon{}, fmt.Errorf("%w: truncated record", ErrInvalidBeacon)
		}
		tlvType := payload[0]
		length := int(binary.BigEndian.Uint16(payload[1:tlvHeaderLength]))
		payload = payload[tlvHeaderLength:]
		if len(payload) < length {
			return Beacon{}, fmt.Errorf("%w: truncated value", ErrInvalidBeacon)
		}
		value := payload[:length]
		payload = payload[length:]
		switch tlvType {
		case tlvTypeSharedSeed:
			if length != sharedSeedLength {
				return Beacon{}, fmt.Errorf("%w: shared seed length %d", ErrInvalidBeacon, length)
			}
			copy(beacon.SharedSeed[:], value)
			seenSeed = true
		case tlvTypeWebSocket:
			location, err := NewWebSocketLocation(string(value))
			if err != nil {
				return Beacon{}, err
			}
			beacon.Locations = append(beacon.Locations, location)
		case tlvTypeWebRTC:
			beacon.Locations = append(beacon.Locations, Location{Type: LocationTypeWebRTC, Address: string(value)})
		default:
			return Beacon{}, fmt.Errorf("%w: unknown record type %d", ErrInvalidBeacon, tlvType)
		}
	}
	if !seenSeed {
		return Beacon{}, fmt.Errorf("%w: missing shared seed", ErrInvalidBeacon)
	}
	return beacon, nil
}

func appendTLV(buffer []byte, tlvType byte, value []byte) []byte {
	header := make([]byte, tlvHeaderLength)
	header[0] = tlvType
	binary.BigEndian.PutUint16(header[1:], uint16(len(value)))
	buffer = append(buffer, header...)
	return append(buffer, value...)
}
