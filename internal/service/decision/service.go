package decision

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gaveldrop/auction-backend/internal/domain/auction"
	"github.com/gaveldrop/auction-backend/internal/domain/errors"
	"github.com/gaveldrop/auction-backend/internal/domain/values"
	"github.com/gaveldrop/auction-backend/internal/infrastructure/repository"
	"github.com/gaveldrop/auction-backend/internal/metrics"
)

// Store is the persistence surface for seller decisions. All mutations are
// conditional on the current decision state; a false result means another
// actor got there first.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error)
	Accept(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	Reject(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	CounterOffer(ctx context.Context, id uuid.UUID, amount values.Money) (bool, error)
	ResolveCounter(ctx context.Context, id uuid.UUID, accepted bool, now time.Time) (bool, error)
}

// Notifier receives the post-decision fan-out
type Notifier interface {
	NotifyAuctionCompleted(ctx context.Context, a *auction.Auction)
	NotifyCounterOffer(ctx context.Context, a *auction.Auction)
	NotifyAuctionRejected(ctx context.Context, a *auction.Auction, bySeller bool)
}

// StatusCache mirrors terminal transitions into the fast-path cache
type StatusCache interface {
	SetStatus(ctx context.Context, auctionID uuid.UUID, status string) error
	Invalidate(ctx context.Context, auctionID uuid.UUID)
}

type Config struct {
	Currency string
}

// Service handles the seller's post-auction decision: accept, reject or
// counter the winning bid, and the winner's response to a counter.
type Service struct {
	store    Store
	cache    StatusCache
	notifier Notifier
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time
}

func NewService(store Store, cache StatusCache, notifier Notifier, logger *zap.Logger, cfg Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = values.USD
	}
	return &Service{
		store:    store,
		cache:    cache,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Accept completes the auction at the current price
func (s *Service) Accept(ctx context.Context, auctionID, sellerID uuid.UUID) (*auction.Auction, error) {
	a, err := s.loadForSeller(ctx, auctionID, sellerID)
	if err != nil {
		return nil, err
	}
	if !a.DecisionOpen() {
		return nil, errors.ErrDecisionNotPending
	}

	ok, err := s.store.Accept(ctx, auctionID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to accept winning bid: %w", err)
	}
	if !ok {
		return nil, errors.ErrDecisionNotPending
	}

	metrics.SellerDecision(string(auction.DecisionAccepted))
	return s.finish(ctx, auctionID, func(fresh *auction.Auction) {
		s.notifier.NotifyAuctionCompleted(ctx, fresh)
	})
}

// Reject declines the winning bid; the auction completes without a sale
func (s *Service) Reject(ctx context.Context, auctionID, sellerID uuid.UUID) (*auction.Auction, error) {
	a, err := s.loadForSeller(ctx, auctionID, sellerID)
	if err != nil {
		return nil, err
	}
	if !a.DecisionOpen() {
		return nil, errors.ErrDecisionNotPending
	}

	ok, err := s.store.Reject(ctx, auctionID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to reject winning bid: %w", err)
	}
	if !ok {
		return nil, errors.ErrDecisionNotPending
	}

	metrics.SellerDecision(string(auction.DecisionRejected))
	return s.finish(ctx, auctionID, func(fresh *auction.Auction) {
		s.notifier.NotifyAuctionRejected(ctx, fresh, true)
	})
}

// CounterOffer proposes a different price to the winning bidder. The raw
// amount arrives off the wire like a bid and must be positive.
func (s *Service) CounterOffer(ctx context.Context, auctionID, sellerID uuid.UUID, rawAmount any) (*auction.Auction, error) {
	amount, err := values.NewMoneyFromInput(rawAmount, s.cfg.Currency)
	if err != nil || !amount.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}

	a, err := s.loadForSeller(ctx, auctionID, sellerID)
	if err != nil {
		return nil, err
	}
	if !a.DecisionOpen() {
		return nil, errors.ErrDecisionNotPending
	}

	ok, err := s.store.CounterOffer(ctx, auctionID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to record counter offer: %w", err)
	}
	if !ok {
		return nil, errors.ErrDecisionNotPending
	}

	metrics.SellerDecision(string(auction.DecisionCounterOffered))
	return s.finish(ctx, auctionID, func(fresh *auction.Auction) {
		s.notifier.NotifyCounterOffer(ctx, fresh)
	})
}

// RespondToCounter records the winning bidder accepting or declining the
// seller's counter offer. Either response completes the auction; acceptance
// sets the final price to the counter amount.
func (s *Service) RespondToCounter(ctx context.Context, auctionID, bidderID uuid.UUID, accept bool) (*auction.Auction, error) {
	a, err := s.get(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if a.WinnerID == nil || *a.WinnerID != bidderID {
		return nil, errors.NewForbiddenError("NOT_WINNER", "only the winning bidder may respond to a counter offer")
	}
	if !a.CounterOpen() {
		return nil, errors.ErrCounterNotPending
	}

	ok, err := s.store.ResolveCounter(ctx, auctionID, accept, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve counter offer: %w", err)
	}
	if !ok {
		return nil, errors.ErrCounterNotPending
	}

	if accept {
		metrics.SellerDecision("counter_accepted")
	} else {
		metrics.SellerDecision("counter_rejected")
	}

	return s.finish(ctx, auctionID, func(fresh *auction.Auction) {
		if accept {
			s.notifier.NotifyAuctionCompleted(ctx, fresh)
		} else {
			s.notifier.NotifyAuctionRejected(ctx, fresh, false)
		}
	})
}

func (s *Service) get(ctx context.Context, auctionID uuid.UUID) (*auction.Auction, error) {
	a, err := s.store.GetByID(ctx, auctionID)
	if err != nil {
		if stderrors.Is(err, repository.ErrAuctionNotFound) {
			return nil, errors.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to load auction: %w", err)
	}
	return a, nil
}

func (s *Service) loadForSeller(ctx context.Context, auctionID, sellerID uuid.UUID) (*auction.Auction, error) {
	a, err := s.get(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if a.SellerID != sellerID {
		return nil, errors.NewForbiddenError("NOT_SELLER", "only the seller may decide on the winning bid")
	}
	return a, nil
}

// finish reloads the mutated row, mirrors its status into the cache and runs
// the fan-out. The decision itself is already committed; failures past this
// point are logged only.
func (s *Service) finish(ctx context.Context, auctionID uuid.UUID, notify func(*auction.Auction)) (*auction.Auction, error) {
	fresh, err := s.get(ctx, auctionID)
	if err != nil {
		s.logger.Warn("failed to reload auction after decision",
			zap.String("auction_id", auctionID.String()), zap.Error(err))
		return nil, err
	}

	if err := s.cache.SetStatus(ctx, auctionID, string(fresh.Status)); err != nil {
		s.logger.Warn("failed to mirror decision status",
			zap.String("auction_id", auctionID.String()), zap.Error(err))
	}
	// A completed auction never serves the fast path again
	if fresh.Status == auction.StatusCompleted {
		s.cache.Invalidate(ctx, auctionID)
	}
	if s.notifier != nil {
		notify(fresh)
	}
	return fresh, nil
}
