package common

// AccountID identifies a beneficiary. Identity is opaque to the engine; the
// ledger layer is the only component that interprets it.
type AccountID string

// Asset is a short asset code, e.g. "BTC " or "USDT". The wire protocol pads
// codes to four bytes.
type Asset string

type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	}
	return "unknown"
}
