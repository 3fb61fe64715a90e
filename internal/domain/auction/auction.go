package auction

import (
	"time"

	"github.com/google/uuid"

	"github.com/gaveldrop/auction-backend/internal/domain/values"
)

// Auction is the record a seller lists and bidders compete on. The persisted
// Status may lag wall-clock time by up to one sweep interval; bid acceptance
// relies on the time-derived check (IsBiddableAt), everything else on Status.
type Auction struct {
	ID            uuid.UUID    `json:"id"`
	SellerID      uuid.UUID    `json:"seller_id"`
	Title         string       `json:"title"`
	StartingPrice values.Money `json:"starting_price"`
	BidIncrement  values.Money `json:"bid_increment"`
	StartTime     time.Time    `json:"start_time"`
	EndTime       time.Time    `json:"end_time"`
	Status        Status       `json:"status"`

	// Mirrors of the winning bid, maintained by the bid transaction and sweeper
	CurrentPrice *values.Money `json:"current_price,omitempty"`
	HighestBidID *uuid.UUID    `json:"highest_bid_id,omitempty"`
	WinnerID     *uuid.UUID    `json:"winner_id,omitempty"`

	// Post-end seller decision state
	SellerDecision     SellerDecision     `json:"seller_decision,omitempty"`
	CounterOfferAmount *values.Money      `json:"counter_offer_amount,omitempty"`
	CounterOfferStatus CounterOfferStatus `json:"counter_offer_status,omitempty"`
	FinalPrice         *values.Money      `json:"final_price,omitempty"`
	CompletedAt        *time.Time         `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// SellerDecision is meaningful only once the auction has ended.
// The empty value means no decision is required (no winning bid).
type SellerDecision string

const (
	DecisionNone           SellerDecision = ""
	DecisionPending        SellerDecision = "pending"
	DecisionAccepted       SellerDecision = "accepted"
	DecisionRejected       SellerDecision = "rejected"
	DecisionCounterOffered SellerDecision = "counter_offered"
)

type CounterOfferStatus string

const (
	CounterNone     CounterOfferStatus = ""
	CounterPending  CounterOfferStatus = "pending"
	CounterAccepted CounterOfferStatus = "accepted"
	CounterRejected CounterOfferStatus = "rejected"
)

// New creates a pending auction. endTime must be after startTime and both
// prices strictly positive.
func New(sellerID uuid.UUID, title string, startingPrice, bidIncrement values.Money, startTime, endTime time.Time) (*Auction, error) {
	if !startingPrice.IsPositive() {
		return nil, ErrInvalidStartingPrice
	}
	if !bidIncrement.IsPositive() {
		return nil, ErrInvalidBidIncrement
	}
	if !endTime.After(startTime) {
		return nil, ErrInvalidTimeWindow
	}
	now := time.Now().UTC()
	return &Auction{
		ID:            uuid.New(),
		SellerID:      sellerID,
		Title:         title,
		StartingPrice: startingPrice,
		BidIncrement:  bidIncrement,
		StartTime:     startTime,
		EndTime:       endTime,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// IsBiddableAt reports whether the auction accepts bids at the given instant.
// Derived from the time window alone; the persisted status is ignored here
// because it can lag behind wall clock until the next sweep.
func (a *Auction) IsBiddableAt(now time.Time) bool {
	return !now.Before(a.StartTime) && now.Before(a.EndTime)
}

// EffectiveStatus derives the status from wall clock for reporting. Terminal
// states are authoritative once persisted.
func (a *Auction) EffectiveStatus(now time.Time) Status {
	switch a.Status {
	case StatusEnded, StatusCompleted, StatusCancelled:
		return a.Status
	}
	if now.Before(a.StartTime) {
		return StatusPending
	}
	if now.Before(a.EndTime) {
		return StatusActive
	}
	return StatusEnded
}

// Floor returns the basis for the next minimum bid: the current highest
// accepted amount, or the starting price if no bid exists.
func (a *Auction) Floor() values.Money {
	if a.CurrentPrice != nil {
		return *a.CurrentPrice
	}
	return a.StartingPrice
}

// MinimumNextBid returns the lowest acceptable next bid: floor + increment.
// A bid equal to the floor is insufficient; it must strictly clear the increment.
func (a *Auction) MinimumNextBid() values.Money {
	return values.MustAdd(a.Floor(), a.BidIncrement)
}

// HasWinningBid reports whether any bid has been accepted
func (a *Auction) HasWinningBid() bool {
	return a.HighestBidID != nil
}

// DecisionOpen reports whether the seller may still act on the winning bid
func (a *Auction) DecisionOpen() bool {
	return a.Status == StatusEnded && a.SellerDecision == DecisionPending
}

// CounterOpen reports whether the winning bidder may respond to a counter offer
func (a *Auction) CounterOpen() bool {
	return a.Status == StatusEnded &&
		a.SellerDecision == DecisionCounterOffered &&
		a.CounterOfferStatus == CounterPending
}
