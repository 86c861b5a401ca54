package engine

import (
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/btree"

	"skoll/internal/common"
	"skoll/internal/ledger"
)

var ErrPairNotFound = errors.New("pair not found")

// Reporter receives every settled fill. The TCP server implements this to
// push execution reports to connected counterparties.
type Reporter interface {
	ReportFill(fill common.Fill) error
}

// Engine owns the trading pairs. Each pair is registered under a fresh UUID
// handle; nothing deduplicates two pairs created for the same asset
// combination, discovery of "the" pair is the caller's concern.
type Engine struct {
	ledger   ledger.Ledger
	reporter Reporter
	pairs    btree.Map[string, *Pair]
}

func New(led ledger.Ledger) *Engine {
	return &Engine{ledger: led}
}

// SetReporter attaches the fill reporter. Must be called before pairs are
// created; pairs hold the reporter they were created with.
func (e *Engine) SetReporter(r Reporter) {
	e.reporter = r
}

// CreatePair mints a fresh pair for the base/quote combination and registers
// it for discovery by handle.
func (e *Engine) CreatePair(base, quote common.Asset) *Pair {
	pair := newPair(base, quote, e.ledger, e.reporter)
	e.pairs.Set(pair.ID().String(), pair)

	log.Info().
		Str("pair", pair.ID().String()).
		Str("base", string(base)).
		Str("quote", string(quote)).
		Msg("pair created")
	return pair
}

// Pair resolves a handle to its pair.
func (e *Engine) Pair(id uuid.UUID) (*Pair, error) {
	pair, ok := e.pairs.Get(id.String())
	if !ok {
		return nil, ErrPairNotFound
	}
	return pair, nil
}

// Pairs lists every registered pair in handle order.
func (e *Engine) Pairs() []*Pair {
	out := make([]*Pair, 0, e.pairs.Len())
	e.pairs.Scan(func(_ string, pair *Pair) bool {
		out = append(out, pair)
		return true
	})
	return out
}
