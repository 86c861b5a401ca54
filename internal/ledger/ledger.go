package ledger

import (
	"errors"

	"skoll/internal/common"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBalanceOverflow   = errors.New("balance overflow")
)

// Ledger is the custody collaborator. The engine only ever locks escrow out
// of an account and delivers settled amounts back in, always inside a
// transaction that commits or rolls back as a whole.
type Ledger interface {
	Begin() Tx
}

// Tx is one all-or-nothing unit of custody work. Rollback undoes every Lock
// and Deliver applied since Begin; after Commit or Rollback the transaction
// must not be used again.
type Tx interface {
	// Lock debits qty units of asset from account into escrow. Fails with
	// ErrInsufficientFunds if the account's free balance is too small.
	Lock(account common.AccountID, asset common.Asset, qty uint64) error
	// Deliver credits qty units of asset to account out of escrow. Fails
	// with ErrBalanceOverflow if the credit would wrap the balance.
	Deliver(account common.AccountID, asset common.Asset, qty uint64) error
	Commit()
	Rollback()
}
