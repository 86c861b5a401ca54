package ledger

import (
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"skoll/internal/common"
)

// MemLedger keeps free balances in memory. Transactions hold the ledger
// mutex from Begin until Commit or Rollback, so a transaction sees and
// mutates a consistent view.
type MemLedger struct {
	mu       sync.Mutex
	balances map[common.AccountID]map[common.Asset]uint64
}

func NewMem() *MemLedger {
	return &MemLedger{
		balances: make(map[common.AccountID]map[common.Asset]uint64),
	}
}

// Credit funds an account outside any transaction. Used to seed balances.
// Saturates at MaxUint64 rather than wrapping.
func (l *MemLedger) Credit(account common.AccountID, asset common.Asset, qty uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[account][asset] > math.MaxUint64-qty {
		qty = math.MaxUint64 - l.balances[account][asset]
	}
	l.credit(account, asset, qty)
}

func (l *MemLedger) BalanceOf(account common.AccountID, asset common.Asset) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account][asset]
}

func (l *MemLedger) Begin() Tx {
	l.mu.Lock()
	return &memTx{ledger: l}
}

// credit is the raw add. Callers guarantee it cannot wrap.
func (l *MemLedger) credit(account common.AccountID, asset common.Asset, qty uint64) {
	assets, ok := l.balances[account]
	if !ok {
		assets = make(map[common.Asset]uint64)
		l.balances[account] = assets
	}
	assets[asset] += qty
}

type memTx struct {
	ledger *MemLedger
	// Undo steps in application order; replayed backwards on rollback.
	journal []func()
	done    bool
}

func (tx *memTx) Lock(account common.AccountID, asset common.Asset, qty uint64) error {
	l := tx.ledger
	if l.balances[account][asset] < qty {
		return ErrInsufficientFunds
	}
	l.balances[account][asset] -= qty
	tx.journal = append(tx.journal, func() { l.credit(account, asset, qty) })
	return nil
}

func (tx *memTx) Deliver(account common.AccountID, asset common.Asset, qty uint64) error {
	l := tx.ledger
	if l.balances[account][asset] > math.MaxUint64-qty {
		return ErrBalanceOverflow
	}
	l.credit(account, asset, qty)
	tx.journal = append(tx.journal, func() { l.balances[account][asset] -= qty })
	return nil
}

func (tx *memTx) Commit() {
	if tx.done {
		return
	}
	tx.done = true
	tx.journal = nil
	tx.ledger.mu.Unlock()
}

func (tx *memTx) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	for i := len(tx.journal) - 1; i >= 0; i-- {
		tx.journal[i]()
	}
	log.Debug().Int("steps", len(tx.journal)).Msg("ledger transaction rolled back")
	tx.journal = nil
	tx.ledger.mu.Unlock()
}
