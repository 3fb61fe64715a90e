package bid

import (
	"time"

	"github.com/google/uuid"

	"github.com/gaveldrop/auction-backend/internal/domain/values"
)

// Bid is an accepted offer on an auction. Bids are created only through the
// bid acceptance transaction and never mutated afterwards except for the
// winning flags, which flip when a higher bid supersedes this one or when
// the auction ends.
type Bid struct {
	ID        uuid.UUID    `json:"id"`
	AuctionID uuid.UUID    `json:"auction_id"`
	BidderID  uuid.UUID    `json:"bidder_id"`
	Amount    values.Money `json:"amount"`
	Status    Status       `json:"status"`
	IsWinning bool         `json:"is_winning"`
	BidTime   time.Time    `json:"bid_time"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type Status string

const (
	StatusActive  Status = "active"
	StatusWinning Status = "winning"
	StatusOutbid  Status = "outbid"
	StatusLost    Status = "lost"
)

// New creates a bid already marked winning. The caller commits it together
// with the demotion of the previous winner in one transaction, so at most
// one bid per auction carries IsWinning at any instant.
func New(auctionID, bidderID uuid.UUID, amount values.Money) *Bid {
	now := time.Now().UTC()
	return &Bid{
		ID:        uuid.New(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		Status:    StatusWinning,
		IsWinning: true,
		BidTime:   now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Outbid demotes the bid after a higher one was accepted
func (b *Bid) Outbid() {
	b.IsWinning = false
	b.Status = StatusOutbid
	b.UpdatedAt = time.Now().UTC()
}

// Lose finalizes a non-winning bid when the auction ends
func (b *Bid) Lose() {
	b.IsWinning = false
	b.Status = StatusLost
	b.UpdatedAt = time.Now().UTC()
}
