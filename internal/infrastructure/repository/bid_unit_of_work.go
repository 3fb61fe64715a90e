package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gaveldrop/auction-backend/internal/domain/auction"
	"github.com/gaveldrop/auction-backend/internal/domain/bid"
	domainerrors "github.com/gaveldrop/auction-backend/internal/domain/errors"
	"github.com/gaveldrop/auction-backend/internal/domain/values"
	"github.com/gaveldrop/auction-backend/internal/infrastructure/database"
	"github.com/gaveldrop/auction-backend/internal/service/bidding"
)

// Postgres error codes surfaced as retryable conflicts
const (
	pgLockNotAvailable   = "55P03"
	pgSerializationError = "40001"
	pgDeadlockDetected   = "40P01"
)

// BidUnitOfWork runs the bid acceptance transaction: one pgx transaction
// holding the auction row lock, with ledger reads and writes observing the
// same snapshot.
type BidUnitOfWork struct {
	db       *database.ConnectionPool
	auctions *AuctionRepository
	bids     *BidRepository
}

func NewBidUnitOfWork(db *database.ConnectionPool, auctions *AuctionRepository, bids *BidRepository) *BidUnitOfWork {
	return &BidUnitOfWork{db: db, auctions: auctions, bids: bids}
}

// WithAuctionLock locks the auction row and invokes fn with a transaction
// context. fn returning an error rolls back everything.
func (u *BidUnitOfWork) WithAuctionLock(ctx context.Context, auctionID uuid.UUID, fn func(tx bidding.BidTx) error) error {
	err := u.db.Transaction(ctx, func(tx pgx.Tx) error {
		a, err := u.auctions.GetByIDForUpdate(ctx, tx, auctionID)
		if err != nil {
			return err
		}
		return fn(&bidTx{tx: tx, auction: a, u: u})
	})
	return translateTxError(err)
}

type bidTx struct {
	tx      pgx.Tx
	auction *auction.Auction
	u       *BidUnitOfWork
}

func (t *bidTx) Auction() *auction.Auction {
	return t.auction
}

func (t *bidTx) HighestBid(ctx context.Context) (*bid.Bid, error) {
	return t.u.bids.HighestBid(ctx, t.tx, t.auction.ID)
}

func (t *bidTx) InsertBid(ctx context.Context, b *bid.Bid) error {
	return t.u.bids.Insert(ctx, t.tx, b)
}

func (t *bidTx) DemoteBid(ctx context.Context, bidID uuid.UUID) error {
	return t.u.bids.Demote(ctx, t.tx, bidID)
}

func (t *bidTx) RecordNewHighBid(ctx context.Context, bidID uuid.UUID, amount values.Money) error {
	return t.u.auctions.RecordNewHighBid(ctx, t.tx, t.auction.ID, bidID, amount)
}

// translateTxError maps lock timeouts and serialization failures onto the
// retryable conflict error; the transaction was rolled back in full either way.
func translateTxError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAuctionNotFound) {
		return domainerrors.ErrAuctionNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgSerializationError, pgDeadlockDetected:
			return domainerrors.NewConflictError("bid conflicts with a concurrent update, retry").WithCause(err)
		}
	}
	return err
}
