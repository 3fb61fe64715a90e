package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gaveldrop/auction-backend/internal/domain/auction"
	"github.com/gaveldrop/auction-backend/internal/domain/bid"
	"github.com/gaveldrop/auction-backend/internal/infrastructure/repository"
)

// Store is the persistence surface the sweeper drives. Activate and End are
// conditional updates: a false result means another actor won the transition
// and no side effects may fire.
type Store interface {
	FindDueForActivation(ctx context.Context, now time.Time, limit int) ([]*auction.Auction, error)
	Activate(ctx context.Context, id uuid.UUID) (bool, error)
	FindDueForEnd(ctx context.Context, now time.Time, limit int) ([]repository.EndCandidate, error)
	End(ctx context.Context, id uuid.UUID, winning *bid.Bid, now time.Time) (ended bool, losers int64, err error)
}

// StatusCache mirrors transitions into the fast-path cache, best effort
type StatusCache interface {
	SetStatus(ctx context.Context, auctionID uuid.UUID, status string) error
}

// Notifier receives the post-transition fan-out. Fire-and-forget; the
// transition is already committed when these run.
type Notifier interface {
	NotifyAuctionStarted(ctx context.Context, a *auction.Auction)
	NotifyAuctionEnded(ctx context.Context, a *auction.Auction, winning *bid.Bid)
}
