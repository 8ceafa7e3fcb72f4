// Package offline provides the node collaborator used when no Lightning node
// is configured. Account administration keeps working; every payment fails.
package offline

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/terminus/internal/gateway"
)

// ErrNoNode is returned by every payment operation.
var ErrNoNode = errors.New("no lightning node configured")

var _ gateway.NodeClient = Node{}

// Node rejects invoice and payment requests.
type Node struct{}

func (Node) CreateInvoice(context.Context, int64) (string, error) {
	return "", ErrNoNode
}

func (Node) PayInvoice(context.Context, string, string) (gateway.Payment, error) {
	return gateway.Payment{}, ErrNoNode
}
