package gateway

import (
	"context"

	"github.com/MarkoPoloResearchLab/terminus/pkg/ledger"
)

// Payment is the result of a successful outgoing payment.
type Payment struct {
	Preimage  string
	PaidMsats int64
}

// NodeClient is the Lightning node the gateway custodies funds on.
type NodeClient interface {
	CreateInvoice(ctx context.Context, msats int64) (string, error)
	PayInvoice(ctx context.Context, bolt11 string, requestID string) (Payment, error)
}

// IncomingPaymentHandler receives settled incoming payments from the node.
type IncomingPaymentHandler func(ctx context.Context, preimage string, msats int64) error

// ProviderStack is the protocol stack that carries client traffic.
type ProviderStack interface {
	Connect(ctx context.Context, location ledger.Location, seed ledger.SharedSeed) (ledger.ConnectionAttempt, error)
	Disconnect(ctx context.Context, seed ledger.SharedSeed) error
	LocalConnect(ctx context.Context, seed ledger.SharedSeed) error
	LocalDisconnect(ctx context.Context, seed ledger.SharedSeed) error
	NotifyPreimage(ctx context.Context, seeds []ledger.SharedSeed, preimage string, requestID string) error
	NotifyInvoice(ctx context.Context, seeds []ledger.SharedSeed, bolt11 string, requestID string) error
	NotifyError(ctx context.Context, seeds []ledger.SharedSeed, message string, requestID string) error
	ListenLocations() []ledger.Location
}

// Nexus is the provider stack's handle for one client channel.
type Nexus interface {
	SharedSeed() ledger.SharedSeed
}
