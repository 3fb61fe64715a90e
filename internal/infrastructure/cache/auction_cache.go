package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Key prefixes for consistent cache key naming
const (
	HighestBidPrefix   = "auction:highest_bid:"
	BidCountPrefix     = "auction:bid_count:"
	StatusPrefix       = "auction:status:"
	ParticipantsPrefix = "auction:participants:"
	RateLimitPrefix    = "auction:ratelimit:"
)

// Common TTL values
const (
	HighestBidTTL   = 1 * time.Hour
	StatusTTL       = 1 * time.Hour
	ParticipantsTTL = 24 * time.Hour
)

// HighestBidEntry is the hot snapshot of an auction's winning bid
type HighestBidEntry struct {
	BidID    uuid.UUID `json:"bid_id"`
	BidderID uuid.UUID `json:"bidder_id"`
	Amount   string    `json:"amount"`
	BidTime  time.Time `json:"bid_time"`
}

// AuctionCache is the fast path over hot auction state. It is never
// authoritative: every miss or error degrades to a ledger read, and writes
// are last-writer-wins.
type AuctionCache struct {
	cache  Cache
	logger *zap.Logger
}

func NewAuctionCache(cache Cache, logger *zap.Logger) *AuctionCache {
	return &AuctionCache{cache: cache, logger: logger}
}

// GetHighestBid returns the cached highest-bid entry, or (nil, false) on a
// miss or any cache error
func (c *AuctionCache) GetHighestBid(ctx context.Context, auctionID uuid.UUID) (*HighestBidEntry, bool) {
	var entry HighestBidEntry
	if err := c.cache.GetJSON(ctx, HighestBidPrefix+auctionID.String(), &entry); err != nil {
		if _, miss := err.(ErrCacheKeyNotFound); !miss {
			c.logger.Warn("highest bid cache read failed",
				zap.String("auction_id", auctionID.String()), zap.Error(err))
		}
		return nil, false
	}
	return &entry, true
}

// SetHighestBid stores the highest-bid entry with the standard TTL
func (c *AuctionCache) SetHighestBid(ctx context.Context, auctionID uuid.UUID, entry *HighestBidEntry) error {
	return c.cache.SetJSON(ctx, HighestBidPrefix+auctionID.String(), entry, HighestBidTTL)
}

// IncrementBidCount bumps the advisory per-auction bid counter
func (c *AuctionCache) IncrementBidCount(ctx context.Context, auctionID uuid.UUID) (int64, error) {
	return c.cache.Increment(ctx, BidCountPrefix+auctionID.String())
}

// SetStatus mirrors the persisted auction status for cheap lookups
func (c *AuctionCache) SetStatus(ctx context.Context, auctionID uuid.UUID, status string) error {
	return c.cache.Set(ctx, StatusPrefix+auctionID.String(), status, StatusTTL)
}

// AddParticipant records a bidder as a participant of the auction
func (c *AuctionCache) AddParticipant(ctx context.Context, auctionID, bidderID uuid.UUID) error {
	key := ParticipantsPrefix + auctionID.String()
	if err := c.cache.SAdd(ctx, key, bidderID.String()); err != nil {
		return err
	}
	// Best effort: a missing expiry just means the set lives until invalidation
	_ = c.cache.Expire(ctx, key, ParticipantsTTL)
	return nil
}

// Participants returns the recorded bidder ids for an auction
func (c *AuctionCache) Participants(ctx context.Context, auctionID uuid.UUID) ([]uuid.UUID, error) {
	members, err := c.cache.SMembers(ctx, ParticipantsPrefix+auctionID.String())
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Invalidate drops all cached entries for an auction
func (c *AuctionCache) Invalidate(ctx context.Context, auctionID uuid.UUID) {
	id := auctionID.String()
	for _, prefix := range []string{HighestBidPrefix, BidCountPrefix, StatusPrefix, ParticipantsPrefix} {
		if err := c.cache.Delete(ctx, prefix+id); err != nil {
			c.logger.Warn("cache invalidation failed",
				zap.String("key", prefix+id), zap.Error(err))
		}
	}
}
