package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gaveldrop/auction-backend/internal/domain/auction"
	"github.com/gaveldrop/auction-backend/internal/domain/bid"
	"github.com/gaveldrop/auction-backend/internal/domain/values"
)

// ErrAuctionNotFound is returned when an auction lookup matches no row
var ErrAuctionNotFound = errors.New("auction not found")

// AuctionRepository is the durable auction record store. Status transitions
// are conditional updates keyed on the current status, so a duplicate attempt
// affects zero rows and the caller can gate side effects on the result.
type AuctionRepository struct {
	db Querier
}

func NewAuctionRepository(db Querier) *AuctionRepository {
	return &AuctionRepository{db: db}
}

const auctionColumns = `
	id, seller_id, title, starting_price::text, bid_increment::text,
	start_time, end_time, status,
	current_price::text, highest_bid_id, winner_id,
	seller_decision, counter_offer_amount::text, counter_offer_status,
	final_price::text, completed_at, created_at, updated_at`

// Create stores a new auction
func (r *AuctionRepository) Create(ctx context.Context, a *auction.Auction) error {
	query := `
		INSERT INTO auctions (
			id, seller_id, title, starting_price, bid_increment,
			start_time, end_time, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		a.ID, a.SellerID, a.Title,
		a.StartingPrice.Amount().String(), a.BidIncrement.Amount().String(),
		a.StartTime, a.EndTime, string(a.Status), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create auction: %w", err)
	}
	return nil
}

// GetByID retrieves an auction by id
func (r *AuctionRepository) GetByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	return r.get(ctx, r.db, id, false)
}

// GetByIDForUpdate retrieves an auction inside the caller's transaction with
// a row lock. This lock serializes concurrent bidders on the same auction.
func (r *AuctionRepository) GetByIDForUpdate(ctx context.Context, q Querier, id uuid.UUID) (*auction.Auction, error) {
	return r.get(ctx, q, id, true)
}

func (r *AuctionRepository) get(ctx context.Context, q Querier, id uuid.UUID, forUpdate bool) (*auction.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	a, err := scanAuction(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return a, nil
}

// RecordNewHighBid mirrors the freshly accepted winning bid onto the auction
// row. Must run in the same transaction as the bid insert and demotion.
func (r *AuctionRepository) RecordNewHighBid(ctx context.Context, q Querier, auctionID, bidID uuid.UUID, amount values.Money) error {
	query := `
		UPDATE auctions
		SET current_price = $2, highest_bid_id = $3, updated_at = $4
		WHERE id = $1
	`
	tag, err := q.Exec(ctx, query, auctionID, amount.Amount().String(), bidID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record high bid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAuctionNotFound
	}
	return nil
}

// Activate flips pending to active. Returns false when the auction was not
// pending anymore; that result gates side-effect dispatch.
func (r *AuctionRepository) Activate(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE auctions
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
	`
	tag, err := r.db.Exec(ctx, query, id,
		string(auction.StatusActive), time.Now().UTC(), string(auction.StatusPending))
	if err != nil {
		return false, fmt.Errorf("failed to activate auction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// End transitions an active auction to ended, freezing the clock at now.
// When a winning bid exists the winner fields are copied onto the auction and
// the seller decision opens; otherwise the decision state stays empty.
// Returns false when the auction was not active (already ended elsewhere).
func (r *AuctionRepository) End(ctx context.Context, q Querier, id uuid.UUID, winning *bid.Bid, now time.Time) (bool, error) {
	var (
		tag interface{ RowsAffected() int64 }
		err error
	)
	if winning != nil {
		query := `
			UPDATE auctions
			SET status = $2, end_time = $3, updated_at = $3,
			    seller_decision = $4, current_price = $5,
			    highest_bid_id = $6, winner_id = $7
			WHERE id = $1 AND status = $8
		`
		tag, err = q.Exec(ctx, query, id,
			string(auction.StatusEnded), now,
			string(auction.DecisionPending), winning.Amount.Amount().String(),
			winning.ID, winning.BidderID,
			string(auction.StatusActive))
	} else {
		query := `
			UPDATE auctions
			SET status = $2, end_time = $3, updated_at = $3
			WHERE id = $1 AND status = $4
		`
		tag, err = q.Exec(ctx, query, id,
			string(auction.StatusEnded), now, string(auction.StatusActive))
	}
	if err != nil {
		return false, fmt.Errorf("failed to end auction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FindDueForActivation returns pending auctions whose start time has passed
// but whose end time has not
func (r *AuctionRepository) FindDueForActivation(ctx context.Context, now time.Time, limit int) ([]*auction.Auction, error) {
	query := `
		SELECT ` + auctionColumns + `
		FROM auctions
		WHERE status = $1 AND start_time <= $2 AND end_time > $2
		ORDER BY start_time ASC
		LIMIT $3
	`
	return r.list(ctx, query, string(auction.StatusPending), now, limit)
}

// EndCandidate pairs an auction due to end with its winning bid, if any
type EndCandidate struct {
	Auction    *auction.Auction
	WinningBid *bid.Bid
}

// FindDueForEnd returns active auctions whose end time has passed, each with
// its winning bid eager-loaded
func (r *AuctionRepository) FindDueForEnd(ctx context.Context, now time.Time, limit int) ([]EndCandidate, error) {
	query := `
		SELECT ` + auctionColumns + `,
			b.id, b.auction_id, b.bidder_id, b.amount::text, b.status, b.is_winning,
			b.bid_time, b.created_at, b.updated_at
		FROM auctions
		LEFT JOIN bids b ON b.auction_id = auctions.id AND b.is_winning = true
		WHERE auctions.status = $1 AND auctions.end_time <= $2
		ORDER BY auctions.end_time ASC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, string(auction.StatusActive), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find auctions due for end: %w", err)
	}
	defer rows.Close()

	var out []EndCandidate
	for rows.Next() {
		a, winning, err := scanAuctionWithBid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan end candidate: %w", err)
		}
		out = append(out, EndCandidate{Auction: a, WinningBid: winning})
	}
	return out, rows.Err()
}

// Accept records the seller accepting the winning bid and completes the
// auction at the current price. Legal only while the decision is pending.
func (r *AuctionRepository) Accept(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE auctions
		SET seller_decision = $2, status = $3, final_price = current_price,
		    completed_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5 AND seller_decision = $6
	`
	tag, err := r.db.Exec(ctx, query, id,
		string(auction.DecisionAccepted), string(auction.StatusCompleted), now,
		string(auction.StatusEnded), string(auction.DecisionPending))
	if err != nil {
		return false, fmt.Errorf("failed to accept winning bid: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Reject records the seller declining the winning bid
func (r *AuctionRepository) Reject(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE auctions
		SET seller_decision = $2, status = $3, completed_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5 AND seller_decision = $6
	`
	tag, err := r.db.Exec(ctx, query, id,
		string(auction.DecisionRejected), string(auction.StatusCompleted), now,
		string(auction.StatusEnded), string(auction.DecisionPending))
	if err != nil {
		return false, fmt.Errorf("failed to reject winning bid: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CounterOffer records a counter amount awaiting the winning bidder's response
func (r *AuctionRepository) CounterOffer(ctx context.Context, id uuid.UUID, amount values.Money) (bool, error) {
	query := `
		UPDATE auctions
		SET seller_decision = $2, counter_offer_amount = $3,
		    counter_offer_status = $4, updated_at = $5
		WHERE id = $1 AND status = $6 AND seller_decision = $7
	`
	tag, err := r.db.Exec(ctx, query, id,
		string(auction.DecisionCounterOffered), amount.Amount().String(),
		string(auction.CounterPending), time.Now().UTC(),
		string(auction.StatusEnded), string(auction.DecisionPending))
	if err != nil {
		return false, fmt.Errorf("failed to record counter offer: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ResolveCounter records the winning bidder's response to a counter offer.
// Acceptance completes the auction at the counter amount.
func (r *AuctionRepository) ResolveCounter(ctx context.Context, id uuid.UUID, accepted bool, now time.Time) (bool, error) {
	var query string
	counterStatus := auction.CounterRejected
	if accepted {
		counterStatus = auction.CounterAccepted
		query = `
			UPDATE auctions
			SET counter_offer_status = $2, status = $3,
			    final_price = counter_offer_amount, completed_at = $4, updated_at = $4
			WHERE id = $1 AND seller_decision = $5 AND counter_offer_status = $6
		`
	} else {
		query = `
			UPDATE auctions
			SET counter_offer_status = $2, status = $3, completed_at = $4, updated_at = $4
			WHERE id = $1 AND seller_decision = $5 AND counter_offer_status = $6
		`
	}
	tag, err := r.db.Exec(ctx, query, id,
		string(counterStatus), string(auction.StatusCompleted), now,
		string(auction.DecisionCounterOffered), string(auction.CounterPending))
	if err != nil {
		return false, fmt.Errorf("failed to resolve counter offer: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanAuction(row rowScanner) (*auction.Auction, error) {
	a, _, err := scanAuctionFields(row, false)
	return a, err
}

func scanAuctionWithBid(row rowScanner) (*auction.Auction, *bid.Bid, error) {
	return scanAuctionFields(row, true)
}

func scanAuctionFields(row rowScanner, withBid bool) (*auction.Auction, *bid.Bid, error) {
	var (
		a                  auction.Auction
		startingPriceStr   string
		bidIncrementStr    string
		statusStr          string
		currentPrice       sql.NullString
		highestBidID       *uuid.UUID
		winnerID           *uuid.UUID
		sellerDecision     sql.NullString
		counterOfferAmount sql.NullString
		counterOfferStatus sql.NullString
		finalPrice         sql.NullString
		completedAt        sql.NullTime
	)

	dest := []any{
		&a.ID, &a.SellerID, &a.Title, &startingPriceStr, &bidIncrementStr,
		&a.StartTime, &a.EndTime, &statusStr,
		&currentPrice, &highestBidID, &winnerID,
		&sellerDecision, &counterOfferAmount, &counterOfferStatus,
		&finalPrice, &completedAt, &a.CreatedAt, &a.UpdatedAt,
	}

	var (
		bidID     *uuid.UUID
		bidAucID  *uuid.UUID
		bidderID  *uuid.UUID
		bidAmount sql.NullString
		bidStatus sql.NullString
		isWinning sql.NullBool
		bidTime   sql.NullTime
		bidCre    sql.NullTime
		bidUpd    sql.NullTime
	)
	if withBid {
		dest = append(dest, &bidID, &bidAucID, &bidderID, &bidAmount, &bidStatus,
			&isWinning, &bidTime, &bidCre, &bidUpd)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, nil, err
	}

	var err error
	if a.StartingPrice, err = values.NewMoneyFromString(startingPriceStr, values.USD); err != nil {
		return nil, nil, fmt.Errorf("failed to parse starting price: %w", err)
	}
	if a.BidIncrement, err = values.NewMoneyFromString(bidIncrementStr, values.USD); err != nil {
		return nil, nil, fmt.Errorf("failed to parse bid increment: %w", err)
	}
	if a.CurrentPrice, err = nullMoney(currentPrice); err != nil {
		return nil, nil, fmt.Errorf("failed to parse current price: %w", err)
	}
	if a.CounterOfferAmount, err = nullMoney(counterOfferAmount); err != nil {
		return nil, nil, fmt.Errorf("failed to parse counter offer amount: %w", err)
	}
	if a.FinalPrice, err = nullMoney(finalPrice); err != nil {
		return nil, nil, fmt.Errorf("failed to parse final price: %w", err)
	}

	a.Status = auction.Status(statusStr)
	a.HighestBidID = highestBidID
	a.WinnerID = winnerID
	if sellerDecision.Valid {
		a.SellerDecision = auction.SellerDecision(sellerDecision.String)
	}
	if counterOfferStatus.Valid {
		a.CounterOfferStatus = auction.CounterOfferStatus(counterOfferStatus.String)
	}
	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}

	if !withBid || bidID == nil {
		return &a, nil, nil
	}

	amount, err := values.NewMoneyFromString(bidAmount.String, values.USD)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse winning bid amount: %w", err)
	}
	winning := &bid.Bid{
		ID:        *bidID,
		AuctionID: *bidAucID,
		BidderID:  *bidderID,
		Amount:    amount,
		Status:    bid.Status(bidStatus.String),
		IsWinning: isWinning.Bool,
		BidTime:   bidTime.Time,
		CreatedAt: bidCre.Time,
		UpdatedAt: bidUpd.Time,
	}
	return &a, winning, nil
}

func (r *AuctionRepository) list(ctx context.Context, query string, args ...any) ([]*auction.Auction, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	defer rows.Close()

	var out []*auction.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
