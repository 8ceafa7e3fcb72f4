package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestDirectoryIndexesNamesSeedsAndHashes(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newStubStore(test)
	decoder := newStubDecoder()
	alice := mustCreateAccount(test, store, decoder, "alice")
	bob := mustCreateAccount(test, store, decoder, "bob")
	directory := NewDirectory()
	for _, account := range []*Account{bob, alice} {
		if err := directory.Add(account); err != nil {
			test.Fatalf("add: %v", err)
		}
	}
	if err := directory.Add(alice); !errors.Is(err, ErrAccountExists) {
		test.Fatalf("expected ErrAccountExists, got %v", err)
	}

	seed := mustSharedSeed(test, seedHex)
	if err := alice.AddSharedSeed(ctx, seed); err != nil {
		test.Fatalf("add seed: %v", err)
	}
	if err := alice.AddPending(ctx, "shared-hash", "lnbc-a"); err != nil {
		test.Fatalf("add pending: %v", err)
	}
	if err := bob.AddPending(ctx, "shared-hash", "lnbc-b"); err != nil {
		test.Fatalf("add pending: %v", err)
	}
	if _, ok := directory.LookupBySeed(seed); ok {
		test.Fatalf("seed visible before reindex")
	}
	for _, account := range []*Account{alice, bob} {
		if err := directory.Reindex(account); err != nil {
			test.Fatalf("reindex: %v", err)
		}
	}

	if found, ok := directory.LookupBySeed(seed); !ok || found != alice {
		test.Fatalf("seed lookup failed")
	}
	owners := directory.LookupByPaymentHash("shared-hash")
	if len(owners) != 2 || owners[0] != alice || owners[1] != bob {
		test.Fatalf("expected collision set [alice bob], got %v", owners)
	}
	accounts := directory.Accounts()
	if directory.Len() != 2 || accounts[0] != alice || accounts[1] != bob {
		test.Fatalf("unexpected ordering")
	}

	if err := bob.RemovePending(ctx, "shared-hash"); err != nil {
		test.Fatalf("remove pending: %v", err)
	}
	if err := directory.Reindex(bob); err != nil {
		test.Fatalf("reindex: %v", err)
	}
	if owners := directory.LookupByPaymentHash("shared-hash"); len(owners) != 1 || owners[0] != alice {
		test.Fatalf("expected single owner after reindex, got %v", owners)
	}

	directory.Remove(alice)
	if _, ok := directory.LookupByName("alice"); ok {
		test.Fatalf("alice still indexed by name")
	}
	if _, ok := directory.LookupBySeed(seed); ok {
		test.Fatalf("alice seed still indexed")
	}
	if len(directory.LookupByPaymentHash("shared-hash")) != 0 {
		test.Fatalf("alice hash still indexed")
	}
}

func TestDirectoryReportsSeedBoundTwice(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newStubStore(test)
	decoder := newStubDecoder()
	alice := mustCreateAccount(test, store, decoder, "alice")
	bob := mustCreateAccount(test, store, decoder, "bob")
	seed := mustSharedSeed(test, seedHex)
	for _, account := range []*Account{alice, bob} {
		if err := account.AddSharedSeed(ctx, seed); err != nil {
			test.Fatalf("add seed: %v", err)
		}
	}
	directory := NewDirectory()
	if err := directory.Add(alice); err != nil {
		test.Fatalf("add: %v", err)
	}
	if err := directory.Add(bob); !errors.Is(err, ErrIndexInconsistent) {
		test.Fatalf("expected ErrIndexInconsistent, got %v", err)
	}
	if owner, _ := directory.LookupBySeed(seed); owner != alice {
		test.Fatalf("seed owner changed")
	}
}
