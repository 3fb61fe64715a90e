package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gaveldrop/auction-backend/internal/domain/auction"
	"github.com/gaveldrop/auction-backend/internal/domain/bid"
	"github.com/gaveldrop/auction-backend/internal/metrics"
)

// Config bounds a sweeper instance
type Config struct {
	// Interval between sweep passes
	Interval time.Duration

	// DedupReset clears the process-local dispatch dedup set
	DedupReset time.Duration

	// BatchSize caps candidates per phase per pass
	BatchSize int
}

// Sweeper advances auction statuses on a fixed interval: pending auctions
// whose start time has passed become active, active auctions whose end time
// has passed become ended. Each instance is an explicit component wired with
// its own store, cache and notifier; passes never overlap.
//
// The conditional status update is the idempotence boundary: side effects
// fire only when the update reports an affected row. The in-process dedup
// set on top of that only suppresses redundant dispatch attempts within one
// process and is cleared periodically.
type Sweeper struct {
	store    Store
	cache    StatusCache
	notifier Notifier
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time

	mu         sync.Mutex
	inFlight   bool
	dispatched map[string]struct{}

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewSweeper(store Store, cache StatusCache, notifier Notifier, logger *zap.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.DedupReset <= 0 {
		cfg.DedupReset = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		store:      store,
		cache:      cache,
		notifier:   notifier,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
		dispatched: make(map[string]struct{}),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the sweep loop. It returns immediately; the loop runs until
// the context is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
	s.logger.Info("lifecycle sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("batch_size", s.cfg.BatchSize))
}

// Stop halts the loop and waits for an in-progress pass to finish
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	reset := time.NewTicker(s.cfg.DedupReset)
	defer reset.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-reset.C:
			s.mu.Lock()
			s.dispatched = make(map[string]struct{})
			s.mu.Unlock()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one full pass: activations first, then endings. A pass already
// in flight makes this call a no-op.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		s.logger.Debug("sweep already in flight, skipping tick")
		return
	}
	s.inFlight = true
	s.mu.Unlock()

	start := time.Now()
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
		metrics.ObserveSweep(time.Since(start))
	}()

	now := s.now().UTC()
	s.activateDue(ctx, now)
	s.endDue(ctx, now)
}

func (s *Sweeper) activateDue(ctx context.Context, now time.Time) {
	due, err := s.store.FindDueForActivation(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("activation scan failed", zap.Error(err))
		metrics.SweepError("activate_scan")
		return
	}

	for _, a := range due {
		if s.seen("activate", a.ID) {
			continue
		}

		activated, err := s.store.Activate(ctx, a.ID)
		if err != nil {
			s.logger.Error("failed to activate auction",
				zap.String("auction_id", a.ID.String()), zap.Error(err))
			metrics.SweepError("activate")
			continue
		}
		if !activated {
			// Another actor flipped it first; side effects are theirs
			continue
		}

		s.markSeen("activate", a.ID)
		metrics.AuctionActivated()

		started := *a
		started.Status = auction.StatusActive
		started.UpdatedAt = now
		s.dispatchStarted(ctx, &started)
	}
}

func (s *Sweeper) endDue(ctx context.Context, now time.Time) {
	candidates, err := s.store.FindDueForEnd(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("end scan failed", zap.Error(err))
		metrics.SweepError("end_scan")
		return
	}

	for _, c := range candidates {
		if s.seen("end", c.Auction.ID) {
			continue
		}

		ended, losers, err := s.store.End(ctx, c.Auction.ID, c.WinningBid, now)
		if err != nil {
			s.logger.Error("failed to end auction",
				zap.String("auction_id", c.Auction.ID.String()), zap.Error(err))
			metrics.SweepError("end")
			continue
		}
		if !ended {
			continue
		}

		s.markSeen("end", c.Auction.ID)

		outcome := "no_bids"
		if c.WinningBid != nil {
			outcome = "with_winner"
		}
		metrics.AuctionEnded(outcome)
		s.logger.Info("auction ended",
			zap.String("auction_id", c.Auction.ID.String()),
			zap.String("outcome", outcome),
			zap.Int64("losing_bids", losers))

		s.dispatchEnded(ctx, endedSnapshot(c.Auction, c.WinningBid, now), c.WinningBid)
	}
}

func (s *Sweeper) dispatchStarted(ctx context.Context, a *auction.Auction) {
	if err := s.cache.SetStatus(ctx, a.ID, string(auction.StatusActive)); err != nil {
		s.logger.Warn("failed to mirror active status",
			zap.String("auction_id", a.ID.String()), zap.Error(err))
	}
	if s.notifier != nil {
		s.notifier.NotifyAuctionStarted(ctx, a)
	}
	s.logger.Info("auction activated", zap.String("auction_id", a.ID.String()))
}

func (s *Sweeper) dispatchEnded(ctx context.Context, a *auction.Auction, winning *bid.Bid) {
	if err := s.cache.SetStatus(ctx, a.ID, string(auction.StatusEnded)); err != nil {
		s.logger.Warn("failed to mirror ended status",
			zap.String("auction_id", a.ID.String()), zap.Error(err))
	}
	if s.notifier != nil {
		s.notifier.NotifyAuctionEnded(ctx, a, winning)
	}
}

// endedSnapshot returns the auction as the ending transition left it,
// mirroring what the conditional update wrote
func endedSnapshot(a *auction.Auction, winning *bid.Bid, now time.Time) *auction.Auction {
	snap := *a
	snap.Status = auction.StatusEnded
	snap.EndTime = now
	snap.UpdatedAt = now
	if winning != nil {
		snap.SellerDecision = auction.DecisionPending
		snap.CurrentPrice = &winning.Amount
		snap.HighestBidID = &winning.ID
		snap.WinnerID = &winning.BidderID
	}
	return &snap
}

func (s *Sweeper) seen(phase string, id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dispatched[phase+":"+id.String()]
	return ok
}

func (s *Sweeper) markSeen(phase string, id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatched[phase+":"+id.String()] = struct{}{}
}
