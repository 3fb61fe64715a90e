package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gaveldrop/auction-backend/internal/domain/auction"
	"github.com/gaveldrop/auction-backend/internal/domain/bid"
	"github.com/gaveldrop/auction-backend/internal/infrastructure/database"
)

// LifecycleStore bundles the auction status transitions the sweeper drives.
// The ending transition runs in one transaction so the status flip and the
// loser finalization commit together.
type LifecycleStore struct {
	db       *database.ConnectionPool
	auctions *AuctionRepository
	bids     *BidRepository
}

func NewLifecycleStore(db *database.ConnectionPool, auctions *AuctionRepository, bids *BidRepository) *LifecycleStore {
	return &LifecycleStore{db: db, auctions: auctions, bids: bids}
}

func (s *LifecycleStore) FindDueForActivation(ctx context.Context, now time.Time, limit int) ([]*auction.Auction, error) {
	return s.auctions.FindDueForActivation(ctx, now, limit)
}

func (s *LifecycleStore) Activate(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.auctions.Activate(ctx, id)
}

func (s *LifecycleStore) FindDueForEnd(ctx context.Context, now time.Time, limit int) ([]EndCandidate, error) {
	return s.auctions.FindDueForEnd(ctx, now, limit)
}

// End flips the auction to ended and marks every non-winning bid lost.
// Returns ended=false when another actor already ended it; in that case
// nothing was written.
func (s *LifecycleStore) End(ctx context.Context, id uuid.UUID, winning *bid.Bid, now time.Time) (ended bool, losers int64, err error) {
	err = s.db.Transaction(ctx, func(tx pgx.Tx) error {
		ok, err := s.auctions.End(ctx, tx, id, winning, now)
		if err != nil {
			return err
		}
		ended = ok
		if !ok {
			return nil
		}
		losers, err = s.bids.FinalizeLosers(ctx, tx, id)
		return err
	})
	if err != nil {
		return false, 0, err
	}
	return ended, losers, nil
}
