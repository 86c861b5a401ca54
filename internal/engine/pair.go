package engine

import (
	"errors"
	"math/bits"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"skoll/internal/common"
	"skoll/internal/ledger"
	"skoll/internal/metrics"
	"skoll/internal/queue"
)

var (
	ErrZeroQuantity = errors.New("zero quantity")
	ErrZeroPrice    = errors.New("zero price")
	ErrOverflow     = errors.New("arithmetic overflow")
)

// Offer is one resting order: the remaining escrowed quantity and the account
// entitled to receive the counter asset on a fill. An offer never rests with
// Quantity 0; a full fill removes it.
type Offer struct {
	Account  common.AccountID
	Quantity uint64
}

// Pair is the order book and escrow state for one base/quote trading
// relationship. Bids escrow the base asset, asks the quote asset. Between
// public calls the pools always equal the sum of resting quantities on their
// side, and the best bid price is strictly below the best ask price.
//
// A pair serializes its own mutating calls with a mutex, so a submission runs
// the whole matching loop before any other caller observes the book.
type Pair struct {
	id    uuid.UUID
	base  common.Asset
	quote common.Asset

	mu   sync.Mutex
	bids *queue.Queue[Offer]
	asks *queue.Queue[Offer]

	basePool  uint64
	quotePool uint64

	// Quote value handed to bidders beyond the floor-divided base
	// counterpart. Never settled, tracked for observability.
	dust uint64

	ledger   ledger.Ledger
	reporter Reporter
}

func newPair(base, quote common.Asset, led ledger.Ledger, rep Reporter) *Pair {
	return &Pair{
		id:       uuid.New(),
		base:     base,
		quote:    quote,
		bids:     queue.NewMax[Offer](),
		asks:     queue.NewMin[Offer](),
		ledger:   led,
		reporter: rep,
	}
}

func (p *Pair) ID() uuid.UUID { return p.id }

func (p *Pair) Base() common.Asset { return p.base }

func (p *Pair) Quote() common.Asset { return p.quote }

// Bids exposes the bid queue for inspection (size, peek), never mutation.
func (p *Pair) Bids() *queue.Queue[Offer] { return p.bids }

// Asks exposes the ask queue for inspection (size, peek), never mutation.
func (p *Pair) Asks() *queue.Queue[Offer] { return p.asks }

func (p *Pair) BasePool() uint64 { return p.basePool }

func (p *Pair) QuotePool() uint64 { return p.quotePool }

// Dust reports the cumulative quote value handed out beyond the floor-divided
// base counterpart. Informational only.
func (p *Pair) Dust() uint64 { return p.dust }

// SubmitBid locks qty units of the base asset from account, rests the offer
// at the given limit price and matches until no crossing pair remains. Any
// failure leaves the book, the pools and the ledger untouched.
func (p *Pair) SubmitBid(price uint64, account common.AccountID, qty uint64) error {
	return p.submit(common.Bid, price, account, qty)
}

// SubmitAsk is the quote-side counterpart of SubmitBid.
func (p *Pair) SubmitAsk(price uint64, account common.AccountID, qty uint64) error {
	return p.submit(common.Ask, price, account, qty)
}

func (p *Pair) submit(side common.Side, price uint64, account common.AccountID, qty uint64) error {
	if qty == 0 {
		metrics.RejectedTotal.WithLabelValues("zero_quantity").Inc()
		return ErrZeroQuantity
	}
	// A zero limit price makes the quote conversion degenerate (division by
	// the ask price); reject it up front like a zero quantity.
	if price == 0 {
		metrics.RejectedTotal.WithLabelValues("zero_price").Inc()
		return ErrZeroPrice
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	bidsSnap := p.bids.Snapshot()
	asksSnap := p.asks.Snapshot()
	basePool, quotePool, dust := p.basePool, p.quotePool, p.dust

	tx := p.ledger.Begin()
	fills, err := p.place(tx, side, price, account, qty)
	if err != nil {
		p.bids.Restore(bidsSnap)
		p.asks.Restore(asksSnap)
		p.basePool, p.quotePool, p.dust = basePool, quotePool, dust
		tx.Rollback()
		metrics.RejectedTotal.WithLabelValues("aborted").Inc()
		return err
	}
	tx.Commit()

	metrics.OrdersTotal.WithLabelValues(side.String()).Inc()
	// Fills are only announced once the transaction has committed; an
	// aborted submission reports nothing.
	for _, fill := range fills {
		p.report(fill)
	}
	return nil
}

func (p *Pair) place(tx ledger.Tx, side common.Side, price uint64, account common.AccountID, qty uint64) ([]common.Fill, error) {
	switch side {
	case common.Bid:
		if err := tx.Lock(account, p.base, qty); err != nil {
			return nil, err
		}
		pool, carry := bits.Add64(p.basePool, qty, 0)
		if carry != 0 {
			return nil, ErrOverflow
		}
		p.basePool = pool
		p.bids.Insert(price, Offer{Account: account, Quantity: qty})
	case common.Ask:
		if err := tx.Lock(account, p.quote, qty); err != nil {
			return nil, err
		}
		pool, carry := bits.Add64(p.quotePool, qty, 0)
		if carry != 0 {
			return nil, ErrOverflow
		}
		p.quotePool = pool
		p.asks.Insert(price, Offer{Account: account, Quantity: qty})
	}
	return p.match(tx)
}

// match consumes the top of book while it crosses (best bid >= best ask).
// Both best offers are extracted each iteration: if they do not cross both
// go straight back, and no other pending pair can cross either, since the
// heap hands us the globally best bid and ask.
//
// A crossing trade settles at the resting ask's limit price, so a bidder
// whose own limit was better takes the price improvement. The floor division
// means up to askPrice-1 quote units per iteration have no exact base
// counterpart; that remainder rides along with the bidder's delivery and is
// accumulated in dust.
func (p *Pair) match(tx ledger.Tx) ([]common.Fill, error) {
	var fills []common.Fill
	for !p.bids.IsEmpty() && !p.asks.IsEmpty() {
		askPrice, ask, err := p.asks.Extract()
		if err != nil {
			return nil, err
		}
		bidPrice, bid, err := p.bids.Extract()
		if err != nil {
			return nil, err
		}

		if bidPrice < askPrice {
			p.asks.Insert(askPrice, ask)
			p.bids.Insert(bidPrice, bid)
			return fills, nil
		}

		hi, bidValue := bits.Mul64(bid.Quantity, askPrice)
		if hi != 0 {
			return nil, ErrOverflow
		}
		matchQuote := min(bidValue, ask.Quantity)
		matchBase := matchQuote / askPrice

		if err := tx.Deliver(ask.Account, p.base, matchBase); err != nil {
			return nil, err
		}
		if err := tx.Deliver(bid.Account, p.quote, matchQuote); err != nil {
			return nil, err
		}

		p.basePool -= matchBase
		p.quotePool -= matchQuote
		p.dust += matchQuote - matchBase*askPrice
		bid.Quantity -= matchBase
		ask.Quantity -= matchQuote

		fills = append(fills, common.Fill{
			Pair:      p.id,
			Bidder:    bid.Account,
			Asker:     ask.Account,
			Price:     askPrice,
			BaseQty:   matchBase,
			QuoteQty:  matchQuote,
			Timestamp: time.Now(),
		})

		if bid.Quantity > 0 {
			p.bids.Insert(bidPrice, bid)
		}
		if ask.Quantity > 0 {
			p.asks.Insert(askPrice, ask)
		}
	}
	return fills, nil
}

func (p *Pair) report(fill common.Fill) {
	metrics.TradesTotal.Inc()
	metrics.VolumeTotal.WithLabelValues(string(p.base)).Add(float64(fill.BaseQty))
	metrics.VolumeTotal.WithLabelValues(string(p.quote)).Add(float64(fill.QuoteQty))

	log.Info().
		Str("pair", p.id.String()).
		Str("bidder", string(fill.Bidder)).
		Str("asker", string(fill.Asker)).
		Uint64("price", fill.Price).
		Uint64("base_qty", fill.BaseQty).
		Uint64("quote_qty", fill.QuoteQty).
		Msg("trade")

	if p.reporter == nil {
		return
	}
	if err := p.reporter.ReportFill(fill); err != nil {
		log.Warn().Err(err).Str("pair", p.id.String()).Msg("fill report failed")
	}
}
