package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// IndicativeQuote is a non-binding price a maker returned for a pair. It is
// ephemeral: it only exists for the duration of a quote request.
type IndicativeQuote struct {
	Maker       common.Address
	MakerURI    string
	MakerToken  common.Address
	TakerToken  common.Address
	MakerAmount *big.Int
	TakerAmount *big.Int
	Expiry      time.Time
}

// Quote is a firm, maker-signed quote persisted when the taker requests a
// binding price. Accepting it (submitting the taker signature) creates a Job.
type Quote struct {
	ID             uuid.UUID
	OrderHash      common.Hash
	ChainID        int
	MakerURI       string
	Order          Order
	MakerSignature *Signature
	CreatedAt      time.Time
}

// Expired reports whether the quote's order expiry has passed at t.
func (q *Quote) Expired(t time.Time) bool {
	return !q.Order.ExpiryTime().After(t)
}
