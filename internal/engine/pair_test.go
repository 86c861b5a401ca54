package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skoll/internal/common"
	"skoll/internal/ledger"
	"skoll/internal/queue"
)

// --- Setup & Helpers --------------------------------------------------------

const (
	base  = common.Asset("BASE")
	quote = common.Asset("QUOT")
)

// funded returns an account credited with plenty of both assets.
func funded(l *ledger.MemLedger, name string) common.AccountID {
	account := common.AccountID(name)
	l.Credit(account, base, math.MaxUint64/2)
	l.Credit(account, quote, math.MaxUint64/2)
	return account
}

func createTestPair(t *testing.T) (*Pair, *ledger.MemLedger) {
	t.Helper()
	led := ledger.NewMem()
	eng := New(led)
	return eng.CreatePair(base, quote), led
}

// drain pops every offer off a queue, returning priorities and offers in
// extraction order. Destructive, call at the end of a test only.
func drain(t *testing.T, q *queue.Queue[Offer]) ([]uint64, []Offer) {
	t.Helper()
	var prios []uint64
	var offers []Offer
	for !q.IsEmpty() {
		prio, offer, err := q.Extract()
		require.NoError(t, err)
		prios = append(prios, prio)
		offers = append(offers, offer)
	}
	return prios, offers
}

// assertConserved checks that each pool equals the sum of resting quantities
// on its side, reading through PeekAt so the book is left intact.
func assertConserved(t *testing.T, p *Pair) {
	t.Helper()
	var bidSum, askSum uint64
	for i := 0; i < p.Bids().Size(); i++ {
		_, offer, err := p.Bids().PeekAt(i)
		require.NoError(t, err)
		assert.NotZero(t, offer.Quantity, "resting bid with zero quantity")
		bidSum += offer.Quantity
	}
	for i := 0; i < p.Asks().Size(); i++ {
		_, offer, err := p.Asks().PeekAt(i)
		require.NoError(t, err)
		assert.NotZero(t, offer.Quantity, "resting ask with zero quantity")
		askSum += offer.Quantity
	}
	assert.Equal(t, bidSum, p.BasePool(), "base pool drifted from resting bids")
	assert.Equal(t, askSum, p.QuotePool(), "quote pool drifted from resting asks")
}

// --- Tests ------------------------------------------------------------------

func TestSubmit_ZeroQuantityRejected(t *testing.T) {
	pair, led := createTestPair(t)
	alice := funded(led, "alice")
	before := led.BalanceOf(alice, base)

	assert.ErrorIs(t, pair.SubmitBid(10, alice, 0), ErrZeroQuantity)
	assert.ErrorIs(t, pair.SubmitAsk(10, alice, 0), ErrZeroQuantity)

	assert.Equal(t, 0, pair.Bids().Size())
	assert.Equal(t, 0, pair.Asks().Size())
	assert.Zero(t, pair.BasePool())
	assert.Zero(t, pair.QuotePool())
	assert.Equal(t, before, led.BalanceOf(alice, base))
}

func TestSubmit_ZeroPriceRejected(t *testing.T) {
	pair, led := createTestPair(t)
	alice := funded(led, "alice")

	assert.ErrorIs(t, pair.SubmitBid(0, alice, 10), ErrZeroPrice)
	assert.ErrorIs(t, pair.SubmitAsk(0, alice, 10), ErrZeroPrice)
	assert.Equal(t, 0, pair.Bids().Size())
	assert.Equal(t, 0, pair.Asks().Size())
}

func TestSubmit_NoCross_BothRest(t *testing.T) {
	pair, led := createTestPair(t)
	alice := funded(led, "alice")
	bob := funded(led, "bob")

	require.NoError(t, pair.SubmitBid(4, alice, 100))
	require.NoError(t, pair.SubmitAsk(50, bob, 200))

	assert.Equal(t, 1, pair.Bids().Size())
	assert.Equal(t, 1, pair.Asks().Size())
	assert.Equal(t, uint64(100), pair.BasePool())
	assert.Equal(t, uint64(200), pair.QuotePool())
	assertConserved(t, pair)

	bidPrio, bidOffer, err := pair.Bids().PeekAt(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), bidPrio)
	assert.Equal(t, Offer{Account: alice, Quantity: 100}, bidOffer)
}

// An escrowed bid must reduce the submitter's free base balance.
func TestSubmit_LocksEscrow(t *testing.T) {
	pair, led := createTestPair(t)
	alice := funded(led, "alice")
	baseBefore := led.BalanceOf(alice, base)
	quoteBefore := led.BalanceOf(alice, quote)

	require.NoError(t, pair.SubmitBid(4, alice, 100))
	require.NoError(t, pair.SubmitAsk(50, alice, 200))

	assert.Equal(t, baseBefore-100, led.BalanceOf(alice, base))
	assert.Equal(t, quoteBefore-200, led.BalanceOf(alice, quote))
}

func TestSubmit_InsufficientFunds_NoMutation(t *testing.T) {
	pair, led := createTestPair(t)
	poor := common.AccountID("poor")
	led.Credit(poor, base, 5)

	err := pair.SubmitBid(10, poor, 6)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Equal(t, 0, pair.Bids().Size())
	assert.Zero(t, pair.BasePool())
	assert.Equal(t, uint64(5), led.BalanceOf(poor, base))
}

// Scenario from the matching design: bid 40x100(base) resting, ask 2x100(quote)
// crossing. Settled at the resting ask's price 2: matchQuote = min(100*2, 100)
// = 100, matchBase = 100/2 = 50. The bid keeps its unfilled 50 base.
func TestMatch_SettlesAtAskPrice(t *testing.T) {
	pair, led := createTestPair(t)
	bidder := funded(led, "bidder")
	asker := funded(led, "asker")
	bidderQuote := led.BalanceOf(bidder, quote)
	askerBase := led.BalanceOf(asker, base)

	require.NoError(t, pair.SubmitBid(40, bidder, 100))
	require.NoError(t, pair.SubmitAsk(2, asker, 100))

	assert.Equal(t, bidderQuote+100, led.BalanceOf(bidder, quote))
	assert.Equal(t, askerBase+50, led.BalanceOf(asker, base))

	assert.Equal(t, 0, pair.Asks().Size())
	assert.Equal(t, 1, pair.Bids().Size())
	bidPrio, bidOffer, err := pair.Bids().PeekAt(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), bidPrio)
	assert.Equal(t, uint64(50), bidOffer.Quantity)
	assertConserved(t, pair)
}

// Scenario: three resting bids swept by one deep ask. The ask must consume
// them in price order 40, 20, 10 and rest with the leftover quote quantity at
// its own recoverable price.
func TestMatch_AskSweepsBidsInPriceOrder(t *testing.T) {
	pair, led := createTestPair(t)
	b1 := funded(led, "bidder-1")
	b2 := funded(led, "bidder-2")
	b3 := funded(led, "bidder-3")
	asker := funded(led, "asker")

	require.NoError(t, pair.SubmitBid(40, b1, 1000))
	require.NoError(t, pair.SubmitBid(20, b2, 10000))
	require.NoError(t, pair.SubmitBid(10, b3, 100000))
	assert.Equal(t, 3, pair.Bids().Size())
	assert.Equal(t, 0, pair.Asks().Size())

	require.NoError(t, pair.SubmitAsk(5, asker, 1000000))

	// 1000*5 + 10000*5 + 100000*5 = 555000 quote consumed, 445000 rests.
	assert.Equal(t, 0, pair.Bids().Size())
	assert.Equal(t, 1, pair.Asks().Size())
	askPrio, askOffer, err := pair.Asks().PeekAt(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), askPrio, "resting ask price must be recoverable")
	assert.Equal(t, uint64(445000), askOffer.Quantity)
	assert.Zero(t, pair.BasePool())
	assert.Equal(t, uint64(445000), pair.QuotePool())
	assertConserved(t, pair)

	// Each bidder was filled at the ask's price 5.
	assert.Equal(t, uint64(1000*5), led.BalanceOf(b1, quote)-math.MaxUint64/2)
	assert.Equal(t, uint64(10000*5), led.BalanceOf(b2, quote)-math.MaxUint64/2)
	assert.Equal(t, uint64(100000*5), led.BalanceOf(b3, quote)-math.MaxUint64/2)
	assert.Equal(t, uint64(111000), led.BalanceOf(asker, base)-math.MaxUint64/2)
}

// After any submission returns, either one side is empty or the best bid sits
// strictly below the best ask.
func TestMatch_PostConditionNonCrossing(t *testing.T) {
	pair, led := createTestPair(t)
	alice := funded(led, "alice")
	bob := funded(led, "bob")

	prices := []uint64{30, 12, 55, 7, 41, 41, 3, 90, 18, 66}
	for i, price := range prices {
		if i%2 == 0 {
			require.NoError(t, pair.SubmitBid(price, alice, 100+uint64(i)))
		} else {
			require.NoError(t, pair.SubmitAsk(price, bob, 150+uint64(i)))
		}
		assertConserved(t, pair)

		if pair.Bids().IsEmpty() || pair.Asks().IsEmpty() {
			continue
		}
		bestBid, _, err := pair.Bids().PeekAt(0)
		require.NoError(t, err)
		bestAsk, _, err := pair.Asks().PeekAt(0)
		require.NoError(t, err)
		assert.Less(t, bestBid, bestAsk, "crossing pair left resting")
	}
}

// Floor division leaves value with no base counterpart when the consumed ask
// quantity is not a multiple of the ask price. Ask qty 100 < bid value
// 100*7=700, so matchQuote=100, matchBase=100/7=14, dust=100-14*7=2.
func TestMatch_DustAccumulates(t *testing.T) {
	pair, led := createTestPair(t)
	bidder := funded(led, "bidder")
	asker := funded(led, "asker")

	require.NoError(t, pair.SubmitBid(10, bidder, 100))
	require.NoError(t, pair.SubmitAsk(7, asker, 100))

	assert.Equal(t, uint64(2), pair.Dust())
	assert.Equal(t, 0, pair.Asks().Size())
	assert.Equal(t, 1, pair.Bids().Size())
	_, bidOffer, err := pair.Bids().PeekAt(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(100-14), bidOffer.Quantity)
	assertConserved(t, pair)
}

// A resting bid whose quantity times the ask price overflows 64 bits must
// abort the whole submission: no trade, no pool change, ledger untouched.
func TestMatch_OverflowAborts(t *testing.T) {
	pair, led := createTestPair(t)
	bidder := common.AccountID("whale")
	asker := common.AccountID("asker")
	led.Credit(bidder, base, math.MaxUint64)
	led.Credit(asker, quote, 1000)

	require.NoError(t, pair.SubmitBid(2, bidder, math.MaxUint64/2+1))

	err := pair.SubmitAsk(2, asker, 1000)
	assert.ErrorIs(t, err, ErrOverflow)

	// The failed ask left nothing behind.
	assert.Equal(t, 0, pair.Asks().Size())
	assert.Equal(t, 1, pair.Bids().Size())
	assert.Equal(t, uint64(math.MaxUint64/2+1), pair.BasePool())
	assert.Zero(t, pair.QuotePool())
	assert.Equal(t, uint64(1000), led.BalanceOf(asker, quote))
	assertConserved(t, pair)
}

// Resting escrow on one side may not exceed 64 bits in aggregate. A second
// offer that would wrap the pool counter must abort with nothing changed,
// even when each offer on its own is within range.
func TestSubmit_PoolOverflowAborts(t *testing.T) {
	pair, led := createTestPair(t)
	first := common.AccountID("whale-1")
	second := common.AccountID("whale-2")
	led.Credit(first, base, math.MaxUint64)
	led.Credit(second, base, math.MaxUint64)
	led.Credit(first, quote, math.MaxUint64)
	led.Credit(second, quote, math.MaxUint64)

	require.NoError(t, pair.SubmitBid(1, first, math.MaxUint64))

	err := pair.SubmitBid(1, second, 2)
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, 1, pair.Bids().Size())
	assert.Equal(t, uint64(math.MaxUint64), pair.BasePool())
	assert.Equal(t, uint64(math.MaxUint64), led.BalanceOf(second, base))
	assertConserved(t, pair)

	// Same guard on the ask side.
	require.NoError(t, pair.SubmitAsk(100, first, math.MaxUint64))
	err = pair.SubmitAsk(100, second, 2)
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, 1, pair.Asks().Size())
	assert.Equal(t, uint64(math.MaxUint64), pair.QuotePool())
	assert.Equal(t, uint64(math.MaxUint64), led.BalanceOf(second, quote))
	assertConserved(t, pair)
}

// Repeated extraction orders bids descending and asks ascending.
func TestBook_PricePriority(t *testing.T) {
	pair, led := createTestPair(t)
	alice := funded(led, "alice")
	bob := funded(led, "bob")

	for _, price := range []uint64{15, 3, 99, 42, 7} {
		require.NoError(t, pair.SubmitBid(price, alice, 10))
		require.NoError(t, pair.SubmitAsk(price+100, bob, 10))
	}

	bidPrios, _ := drain(t, pair.Bids())
	assert.Equal(t, []uint64{99, 42, 15, 7, 3}, bidPrios)

	askPrios, _ := drain(t, pair.Asks())
	assert.Equal(t, []uint64{103, 107, 115, 142, 199}, askPrios)
}

type failingLedger struct {
	inner    *ledger.MemLedger
	failures int
}

type failingTx struct {
	ledger.Tx
	parent *failingLedger
}

var errDeliveryDown = errors.New("delivery refused")

func (l *failingLedger) Begin() ledger.Tx {
	return &failingTx{Tx: l.inner.Begin(), parent: l}
}

func (tx *failingTx) Deliver(account common.AccountID, asset common.Asset, qty uint64) error {
	if tx.parent.failures > 0 {
		tx.parent.failures--
		return errDeliveryDown
	}
	return tx.Tx.Deliver(account, asset, qty)
}

// Mid-loop delivery failure must leave book, pools and ledger exactly as they
// were before the submission.
func TestMatch_LedgerFailureRollsBack(t *testing.T) {
	led := ledger.NewMem()
	flaky := &failingLedger{inner: led}
	eng := New(flaky)
	pair := eng.CreatePair(base, quote)
	bidder := funded(led, "bidder")
	asker := funded(led, "asker")
	bidderBase := led.BalanceOf(bidder, base)
	askerQuote := led.BalanceOf(asker, quote)

	require.NoError(t, pair.SubmitBid(40, bidder, 100))

	flaky.failures = 1
	err := pair.SubmitAsk(2, asker, 100)
	assert.ErrorIs(t, err, errDeliveryDown)

	assert.Equal(t, 1, pair.Bids().Size())
	assert.Equal(t, 0, pair.Asks().Size())
	assert.Equal(t, uint64(100), pair.BasePool())
	assert.Zero(t, pair.QuotePool())
	assert.Equal(t, bidderBase-100, led.BalanceOf(bidder, base))
	assert.Equal(t, askerQuote, led.BalanceOf(asker, quote))
	assertConserved(t, pair)

	// With the ledger healthy again the same ask goes through.
	require.NoError(t, pair.SubmitAsk(2, asker, 100))
	assert.Equal(t, 0, pair.Asks().Size())
	assertConserved(t, pair)
}
