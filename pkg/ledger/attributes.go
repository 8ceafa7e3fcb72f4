package ledger

import (
	"fmt"
	"strings"
)

const noConnectionAttempt = "(none)"

// AccountAttributes is the read-only view returned by info queries.
type AccountAttributes struct {
	Name               string            `json:"name"`
	UUID               string            `json:"account_uuid"`
	Wad                Wad               `json:"wad"`
	Cap                Wad               `json:"cap"`
	PendingHashes      []string          `json:"pending"`
	OutgoingBeacons    []string          `json:"outgoing_beacons"`
	IncomingBeacons    []string          `json:"incoming_beacons"`
	ConnectionAttempts map[string]string `json:"connection_attempts"`
}

// ProviderInfo is what a connected client learns about its account.
type ProviderInfo struct {
	Ready       bool   `json:"ready"`
	Payer       bool   `json:"payer"`
	Payee       bool   `json:"payee"`
	Wad         Wad    `json:"wad"`
	AccountUUID string `json:"account_uuid"`
}

// ProviderInfo returns the provider info for the account.
func (account *Account) ProviderInfo() ProviderInfo {
	return ProviderInfo{
		Ready:       true,
		Payer:       true,
		Payee:       true,
		Wad:         account.record.Wad,
		AccountUUID: account.record.UUID,
	}
}

// IncomingBeacon builds the beacon a client uses to reach seed at locations.
func IncomingBeacon(seed SharedSeed, locations []Location) Beacon {
	return NewBeacon(seed, locations...)
}

// Attributes returns the account view. locations are the listen locations
// advertised in incoming beacons.
func (account *Account) Attributes(locations []Location) AccountAttributes {
	attributes := AccountAttributes{
		Name:               account.record.Name,
		UUID:               account.record.UUID,
		Wad:                account.record.Wad,
		Cap:                account.record.Cap,
		PendingHashes:      account.PendingHashes(),
		OutgoingBeacons:    []string{},
		IncomingBeacons:    []string{},
		ConnectionAttempts: map[string]string{},
	}
	for _, beacon := range account.Beacons() {
		attributes.OutgoingBeacons = append(attributes.OutgoingBeacons, beacon.String())
	}
	for _, seed := range account.SharedSeeds() {
		attributes.IncomingBeacons = append(attributes.IncomingBeacons, IncomingBeacon(seed, locations).String())
	}
	for encoded, attempt := range account.connectionAttempts {
		attributes.ConnectionAttempts[encoded] = describeAttempt(attempt)
	}
	return attributes
}

// Summary renders a human readable multi-line description.
func (account *Account) Summary(locations []Location) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("\t%s: wad: %s ", account.record.Name, account.record.Wad))
	for _, beacon := range account.Beacons() {
		encoded := beacon.String()
		lines = append(lines, fmt.Sprintf("\t\toutgoing beacon: %s", encoded))
		attempt := noConnectionAttempt
		if existing, ok := account.connectionAttempts[encoded]; ok {
			attempt = describeAttempt(existing)
		}
		lines = append(lines, fmt.Sprintf("\t\t\tconnection attempt: %s", attempt))
	}
	for _, seed := range account.SharedSeeds() {
		lines = append(lines, fmt.Sprintf("\t\tincoming shared seed: %s", seed))
		lines = append(lines, fmt.Sprintf("\t\t\tincoming beacon: %s", IncomingBeacon(seed, locations)))
	}
	return strings.Join(lines, "\n")
}

func describeAttempt(attempt ConnectionAttempt) string {
	if attempt == nil {
		return noConnectionAttempt
	}
	if stringer, ok := attempt.(fmt.Stringer); ok {
		return stringer.String()
	}
	return string(attempt.State())
}
