package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Fill accounts for the two parties who matched. Price is the resting ask's
// limit price (quote units per base unit); BaseQty went to the asker and
// QuoteQty to the bidder.
type Fill struct {
	Pair      uuid.UUID
	Bidder    AccountID
	Asker     AccountID
	Price     uint64
	BaseQty   uint64
	QuoteQty  uint64
	Timestamp time.Time
}

func (f Fill) String() string {
	return fmt.Sprintf(
		`Pair:      %v
Bidder:    %s
Asker:     %s
Price:     %d
BaseQty:   %d
QuoteQty:  %d
Timestamp: %v`,
		f.Pair,
		f.Bidder,
		f.Asker,
		f.Price,
		f.BaseQty,
		f.QuoteQty,
		f.Timestamp.Format(time.RFC3339),
	)
}
