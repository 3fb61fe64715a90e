package bidding

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gaveldrop/auction-backend/internal/domain/auction"
	"github.com/gaveldrop/auction-backend/internal/domain/bid"
	"github.com/gaveldrop/auction-backend/internal/domain/errors"
	"github.com/gaveldrop/auction-backend/internal/domain/values"
	"github.com/gaveldrop/auction-backend/internal/infrastructure/cache"
	"github.com/gaveldrop/auction-backend/internal/metrics"
)

// Config bounds the bid acceptance path
type Config struct {
	// BidWindowLimit accepted attempts per (bidder, auction) within BidWindow
	BidWindowLimit int
	BidWindow      time.Duration
	Currency       string
}

// Service implements the bid acceptance transaction: parse, validate,
// serialize on the auction row lock, commit atomically, then dispatch
// best-effort side effects.
type Service struct {
	uow      UnitOfWork
	fastPath FastPathCache
	limiter  RateLimiter
	notifier Notifier
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time
}

func NewService(uow UnitOfWork, fastPath FastPathCache, limiter RateLimiter, notifier Notifier, logger *zap.Logger, cfg Config) *Service {
	if cfg.BidWindowLimit <= 0 {
		cfg.BidWindowLimit = 10
	}
	if cfg.BidWindow <= 0 {
		cfg.BidWindow = time.Minute
	}
	if cfg.Currency == "" {
		cfg.Currency = values.USD
	}
	return &Service{
		uow:      uow,
		fastPath: fastPath,
		limiter:  limiter,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// PlaceBidRequest carries a raw bid as it arrives off the wire. Amount may
// be a JSON number or a numeric string.
type PlaceBidRequest struct {
	AuctionID uuid.UUID
	BidderID  uuid.UUID
	Amount    any
}

// PlaceBidResult is the committed bid plus the updated auction summary
type PlaceBidResult struct {
	Bid            *bid.Bid         `json:"bid"`
	Auction        *auction.Auction `json:"auction"`
	MinimumNextBid values.Money     `json:"minimum_next_bid"`
}

// PlaceBid validates and commits a new highest bid, demoting the prior one.
// Everything up to the commit is atomic; a failure anywhere rolls the whole
// attempt back. Side effects after the commit are best-effort and never
// surface to the bidder.
func (s *Service) PlaceBid(ctx context.Context, req *PlaceBidRequest) (*PlaceBidResult, error) {
	start := time.Now()

	if req.AuctionID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_AUCTION_ID", "auction ID is required")
	}
	if req.BidderID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_BIDDER_ID", "bidder ID is required")
	}

	amount, err := values.NewMoneyFromInput(req.Amount, s.cfg.Currency)
	if err != nil || !amount.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}

	// Rate limit before touching any state. A limiter outage fails open:
	// losing the bound is preferable to blocking all bids.
	if err := s.checkRateLimit(ctx, req.BidderID, req.AuctionID); err != nil {
		return nil, err
	}

	var (
		newBid    *bid.Bid
		committed *auction.Auction
		outbid    *bid.Bid
	)

	err = s.uow.WithAuctionLock(ctx, req.AuctionID, func(tx BidTx) error {
		a := tx.Auction()
		now := s.now().UTC()

		// Bid acceptance is decided by the time window, not the persisted
		// status: the sweeper may not have caught up yet.
		if !a.IsBiddableAt(now) {
			return errors.NewAuctionNotActiveError(string(a.EffectiveStatus(now)))
		}

		if req.BidderID == a.SellerID {
			return errors.ErrSelfBidForbidden
		}

		floor, prior, err := s.resolveFloor(ctx, tx, a)
		if err != nil {
			return err
		}

		minimum := values.MustAdd(floor, a.BidIncrement)
		if amount.LessThan(minimum) {
			return errors.NewBidTooLowError(minimum.String())
		}

		// The ledger enforces one winning row per auction per statement, so
		// the prior winner must be demoted before its replacement is inserted.
		if prior != nil {
			if err := tx.DemoteBid(ctx, prior.ID); err != nil {
				return fmt.Errorf("failed to demote prior bid: %w", err)
			}
			outbid = prior
		}

		newBid = bid.New(a.ID, req.BidderID, amount)
		if err := tx.InsertBid(ctx, newBid); err != nil {
			return fmt.Errorf("failed to insert bid: %w", err)
		}

		if err := tx.RecordNewHighBid(ctx, newBid.ID, amount); err != nil {
			return fmt.Errorf("failed to record high bid: %w", err)
		}

		snapshot := *a
		snapshot.CurrentPrice = &amount
		snapshot.HighestBidID = &newBid.ID
		committed = &snapshot
		return nil
	})
	if err != nil {
		metrics.BidsRejected(rejectionCode(err))
		return nil, err
	}

	metrics.BidsAccepted()
	metrics.ObserveBidAcceptance(time.Since(start))
	s.dispatchAccepted(committed, newBid, outbid)

	return &PlaceBidResult{
		Bid:            newBid,
		Auction:        committed,
		MinimumNextBid: committed.MinimumNextBid(),
	}, nil
}

// resolveFloor determines the current price floor and the bid to demote.
// The cached entry is preferred; a miss, an error, or a cache value below
// the locked row's own mirror (stale) falls back to a ledger read. With no
// bid anywhere the floor is the starting price.
func (s *Service) resolveFloor(ctx context.Context, tx BidTx, a *auction.Auction) (values.Money, *bid.Bid, error) {
	if entry, ok := s.fastPath.GetHighestBid(ctx, a.ID); ok {
		cached, err := values.NewMoneyFromString(entry.Amount, s.cfg.Currency)
		if err == nil && cached.Compare(a.Floor()) >= 0 {
			return cached, &bid.Bid{
				ID:        entry.BidID,
				AuctionID: a.ID,
				BidderID:  entry.BidderID,
				Amount:    cached,
			}, nil
		}
		// Stale or unparsable entry: doubt it and consult the ledger
	}

	highest, err := tx.HighestBid(ctx)
	if err != nil {
		return values.Money{}, nil, fmt.Errorf("failed to read highest bid: %w", err)
	}
	if highest == nil {
		return a.StartingPrice, nil, nil
	}
	return highest.Amount, highest, nil
}

func (s *Service) checkRateLimit(ctx context.Context, bidderID, auctionID uuid.UUID) error {
	if s.limiter == nil {
		return nil
	}
	key := fmt.Sprintf("bid:%s:%s", bidderID, auctionID)
	allowed, err := s.limiter.Allow(ctx, key, s.cfg.BidWindowLimit, s.cfg.BidWindow)
	if err != nil {
		s.logger.Warn("bid rate limiter unavailable, allowing bid",
			zap.String("bidder_id", bidderID.String()), zap.Error(err))
		return nil
	}
	if !allowed {
		return errors.NewRateLimitError("too many bids, slow down")
	}
	return nil
}

// dispatchAccepted runs the post-commit fan-out. The bid is already durable;
// nothing here may fail it.
func (s *Service) dispatchAccepted(a *auction.Auction, newBid *bid.Bid, outbid *bid.Bid) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.fastPath.SetHighestBid(ctx, a.ID, &cache.HighestBidEntry{
		BidID:    newBid.ID,
		BidderID: newBid.BidderID,
		Amount:   newBid.Amount.Amount().String(),
		BidTime:  newBid.BidTime,
	}); err != nil {
		s.logger.Warn("failed to update highest bid cache",
			zap.String("auction_id", a.ID.String()), zap.Error(err))
	}

	if _, err := s.fastPath.IncrementBidCount(ctx, a.ID); err != nil {
		s.logger.Warn("failed to increment bid count",
			zap.String("auction_id", a.ID.String()), zap.Error(err))
	}

	if err := s.fastPath.AddParticipant(ctx, a.ID, newBid.BidderID); err != nil {
		s.logger.Warn("failed to record participant",
			zap.String("auction_id", a.ID.String()), zap.Error(err))
	}

	if s.notifier != nil {
		s.notifier.NotifyNewBid(ctx, a, newBid, outbid)
	}
}

func rejectionCode(err error) string {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "internal"
}
