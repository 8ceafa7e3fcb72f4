package offline

import (
	"context"
	"errors"
	"testing"
)

func TestNodeRejectsPayments(test *testing.T) {
	test.Parallel()
	node := Node{}
	if _, err := node.CreateInvoice(context.Background(), 1000); !errors.Is(err, ErrNoNode) {
		test.Fatalf("expected ErrNoNode, got %v", err)
	}
	if _, err := node.PayInvoice(context.Background(), "lnbc1", "req"); !errors.Is(err, ErrNoNode) {
		test.Fatalf("expected ErrNoNode, got %v", err)
	}
}
