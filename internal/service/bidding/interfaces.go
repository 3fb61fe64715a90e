package bidding

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gaveldrop/auction-backend/internal/domain/auction"
	"github.com/gaveldrop/auction-backend/internal/domain/bid"
	"github.com/gaveldrop/auction-backend/internal/domain/values"
	"github.com/gaveldrop/auction-backend/internal/infrastructure/cache"
)

// BidTx is the transactional context the bid acceptance algorithm runs in.
// The auction row is locked for the lifetime of the callback; all reads and
// writes observe the same snapshot and commit or roll back together.
type BidTx interface {
	// Auction returns the row-locked auction snapshot
	Auction() *auction.Auction

	// HighestBid reads the ledger's winning bid inside the transaction
	HighestBid(ctx context.Context) (*bid.Bid, error)

	// InsertBid appends the new winning bid
	InsertBid(ctx context.Context, b *bid.Bid) error

	// DemoteBid flips the prior winner to outbid
	DemoteBid(ctx context.Context, bidID uuid.UUID) error

	// RecordNewHighBid mirrors the accepted bid onto the auction row
	RecordNewHighBid(ctx context.Context, bidID uuid.UUID, amount values.Money) error
}

// UnitOfWork opens the serialized per-auction transaction
type UnitOfWork interface {
	WithAuctionLock(ctx context.Context, auctionID uuid.UUID, fn func(tx BidTx) error) error
}

// FastPathCache is the advisory highest-bid cache. Misses and errors are
// expected; callers fall back to the ledger.
type FastPathCache interface {
	GetHighestBid(ctx context.Context, auctionID uuid.UUID) (*cache.HighestBidEntry, bool)
	SetHighestBid(ctx context.Context, auctionID uuid.UUID, entry *cache.HighestBidEntry) error
	IncrementBidCount(ctx context.Context, auctionID uuid.UUID) (int64, error)
	AddParticipant(ctx context.Context, auctionID, bidderID uuid.UUID) error
}

// RateLimiter bounds accepted bid attempts per key in a sliding window
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Notifier receives the post-commit fan-out for an accepted bid.
// Implementations are fire-and-forget; failures never reach the bidder.
type Notifier interface {
	NotifyNewBid(ctx context.Context, a *auction.Auction, newBid *bid.Bid, outbid *bid.Bid)
}
