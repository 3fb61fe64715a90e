package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gaveldrop/auction-backend/internal/domain/bid"
	"github.com/gaveldrop/auction-backend/internal/domain/values"
)

// ErrBidNotFound is returned when a bid lookup matches no row
var ErrBidNotFound = errors.New("bid not found")

// BidRepository is the durable bid ledger. Inserts and winning-flag updates
// are expected to run inside the transaction holding the auction row lock;
// reads accept any Querier so they can observe the same snapshot.
type BidRepository struct {
	db Querier
}

func NewBidRepository(db Querier) *BidRepository {
	return &BidRepository{db: db}
}

const bidColumns = `id, auction_id, bidder_id, amount::text, status, is_winning, bid_time, created_at, updated_at`

// Insert appends a new bid row
func (r *BidRepository) Insert(ctx context.Context, q Querier, b *bid.Bid) error {
	if b.AuctionID == uuid.Nil {
		return errors.New("auction_id cannot be nil")
	}
	if b.BidderID == uuid.Nil {
		return errors.New("bidder_id cannot be nil")
	}
	if !b.Amount.IsPositive() {
		return errors.New("amount must be positive")
	}

	query := `
		INSERT INTO bids (id, auction_id, bidder_id, amount, status, is_winning, bid_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := q.Exec(ctx, query,
		b.ID, b.AuctionID, b.BidderID, b.Amount.Amount().String(), string(b.Status),
		b.IsWinning, b.BidTime, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

// HighestBid returns the bid currently flagged winning for the auction,
// or nil when the auction has no bids
func (r *BidRepository) HighestBid(ctx context.Context, q Querier, auctionID uuid.UUID) (*bid.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE auction_id = $1 AND is_winning = true`

	b, err := scanBid(q.QueryRow(ctx, query, auctionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get highest bid: %w", err)
	}
	return b, nil
}

// Demote clears the winning flag on a superseded bid and marks it outbid
func (r *BidRepository) Demote(ctx context.Context, q Querier, bidID uuid.UUID) error {
	query := `
		UPDATE bids
		SET is_winning = false, status = $2, updated_at = $3
		WHERE id = $1
	`
	tag, err := q.Exec(ctx, query, bidID, string(bid.StatusOutbid), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to demote bid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBidNotFound
	}
	return nil
}

// FinalizeLosers terminally marks every non-winning bid on an ended auction
// as lost. Returns the number of bids affected.
func (r *BidRepository) FinalizeLosers(ctx context.Context, q Querier, auctionID uuid.UUID) (int64, error) {
	query := `
		UPDATE bids
		SET status = $2, updated_at = $3
		WHERE auction_id = $1 AND is_winning = false AND status <> $2
	`
	tag, err := q.Exec(ctx, query, auctionID, string(bid.StatusLost), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to finalize losing bids: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetByID retrieves a bid by id
func (r *BidRepository) GetByID(ctx context.Context, id uuid.UUID) (*bid.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE id = $1`

	b, err := scanBid(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBidNotFound
		}
		return nil, fmt.Errorf("failed to get bid: %w", err)
	}
	return b, nil
}

// ListByAuction returns all bids on an auction, highest amount first
func (r *BidRepository) ListByAuction(ctx context.Context, auctionID uuid.UUID) ([]*bid.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE auction_id = $1 ORDER BY amount DESC, bid_time ASC`

	rows, err := r.db.Query(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	defer rows.Close()

	var bids []*bid.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// BidderIDs returns the distinct bidders who participated in an auction
func (r *BidRepository) BidderIDs(ctx context.Context, auctionID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT bidder_id FROM bids WHERE auction_id = $1`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bidders: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBid(row rowScanner) (*bid.Bid, error) {
	var (
		b         bid.Bid
		amountStr string
		statusStr string
	)
	err := row.Scan(
		&b.ID, &b.AuctionID, &b.BidderID, &amountStr, &statusStr,
		&b.IsWinning, &b.BidTime, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	amount, err := values.NewMoneyFromString(amountStr, values.USD)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bid amount: %w", err)
	}
	b.Amount = amount
	b.Status = bid.Status(statusStr)
	return &b, nil
}

// nullMoney converts an optional NUMERIC::text column to *values.Money
func nullMoney(ns sql.NullString) (*values.Money, error) {
	if !ns.Valid {
		return nil, nil
	}
	m, err := values.NewMoneyFromString(ns.String, values.USD)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
