package ledger

import (
	"fmt"
	"sort"
)

// Directory indexes the live accounts by name, by every shared seed bound to
// them (incoming and outgoing) and by every pending payment hash.
type Directory struct {
	byName        map[string]*Account
	bySeed        map[string]*Account
	byPaymentHash map[string]map[*Account]struct{}
	seedsOf       map[*Account][]string
	hashesOf      map[*Account][]string
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		byName:        map[string]*Account{},
		bySeed:        map[string]*Account{},
		byPaymentHash: map[string]map[*Account]struct{}{},
		seedsOf:       map[*Account][]string{},
		hashesOf:      map[*Account][]string{},
	}
}

// Add indexes account. Names are unique.
func (directory *Directory) Add(account *Account) error {
	if _, exists := directory.byName[account.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrAccountExists, account.Name())
	}
	directory.byName[account.Name()] = account
	return directory.Reindex(account)
}

// Remove drops every index entry for account.
func (directory *Directory) Remove(account *Account) {
	directory.unindex(account)
	if directory.byName[account.Name()] == account {
		delete(directory.byName, account.Name())
	}
}

// Reindex recomputes the seed and payment hash entries of account. It must be
// called after every change to the account's beacons, seeds or pending set.
// A seed already owned by another account is left with its owner and reported.
func (directory *Directory) Reindex(account *Account) error {
	directory.unindex(account)
	var conflict error
	seeds := make([]string, 0)
	for _, seed := range account.AllSharedSeeds() {
		key := seed.String()
		if owner, ok := directory.bySeed[key]; ok && owner != account {
			conflict = fmt.Errorf("%w: shared seed %s bound to %s and %s", ErrIndexInconsistent, key, owner.Name(), account.Name())
			continue
		}
		directory.bySeed[key] = account
		seeds = append(seeds, key)
	}
	directory.seedsOf[account] = seeds
	hashes := account.PendingHashes()
	for _, paymentHash := range hashes {
		owners, ok := directory.byPaymentHash[paymentHash]
		if !ok {
			owners = map[*Account]struct{}{}
			directory.byPaymentHash[paymentHash] = owners
		}
		owners[account] = struct{}{}
	}
	directory.hashesOf[account] = hashes
	return conflict
}

// LookupByName returns the account called name.
func (directory *Directory) LookupByName(name string) (*Account, bool) {
	account, ok := directory.byName[name]
	return account, ok
}

// LookupBySeed returns the account a shared seed is bound to.
func (directory *Directory) LookupBySeed(seed SharedSeed) (*Account, bool) {
	account, ok := directory.bySeed[seed.String()]
	return account, ok
}

// LookupByPaymentHash returns every account tracking paymentHash. More than
// one result is a collision and must not be settled.
func (directory *Directory) LookupByPaymentHash(paymentHash string) []*Account {
	owners := directory.byPaymentHash[paymentHash]
	accounts := make([]*Account, 0, len(owners))
	for account := range owners {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(left, right int) bool {
		return accounts[left].Name() < accounts[right].Name()
	})
	return accounts
}

// Accounts returns every account ordered by name.
func (directory *Directory) Accounts() []*Account {
	accounts := make([]*Account, 0, len(directory.byName))
	for _, account := range directory.byName {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(left, right int) bool {
		return accounts[left].Name() < accounts[right].Name()
	})
	return accounts
}

// Len returns the number of accounts.
func (directory *Directory) Len() int {
	return len(directory.byName)
}

func (directory *Directory) unindex(account *Account) {
	for _, key := range directory.seedsOf[account] {
		if directory.bySeed[key] == account {
			delete(directory.bySeed, key)
		}
	}
	delete(directory.seedsOf, account)
	for _, paymentHash := range directory.hashesOf[account] {
		owners := directory.byPaymentHash[paymentHash]
		delete(owners, account)
		if len(owners) == 0 {
			delete(directory.byPaymentHash, paymentHash)
		}
	}
	delete(directory.hashesOf, account)
}
