package bidding

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gaveldrop/auction-backend/internal/domain/auction"
	"github.com/gaveldrop/auction-backend/internal/domain/bid"
	"github.com/gaveldrop/auction-backend/internal/domain/errors"
	"github.com/gaveldrop/auction-backend/internal/domain/values"
	"github.com/gaveldrop/auction-backend/internal/infrastructure/cache"
)

func money(s string) values.Money {
	return values.MustNewMoneyFromString(s, values.USD)
}

type fakeTx struct {
	auction    *auction.Auction
	highest    *bid.Bid
	highestErr error

	inserted []*bid.Bid
	demoted  []uuid.UUID
	recorded []values.Money
	ops      []string
}

func (f *fakeTx) Auction() *auction.Auction { return f.auction }

func (f *fakeTx) HighestBid(context.Context) (*bid.Bid, error) {
	return f.highest, f.highestErr
}

func (f *fakeTx) InsertBid(_ context.Context, b *bid.Bid) error {
	f.inserted = append(f.inserted, b)
	f.ops = append(f.ops, "insert")
	return nil
}

func (f *fakeTx) DemoteBid(_ context.Context, bidID uuid.UUID) error {
	f.demoted = append(f.demoted, bidID)
	f.ops = append(f.ops, "demote")
	return nil
}

func (f *fakeTx) RecordNewHighBid(_ context.Context, _ uuid.UUID, amount values.Money) error {
	f.recorded = append(f.recorded, amount)
	return nil
}

type fakeUoW struct {
	tx  *fakeTx
	err error
}

func (f *fakeUoW) WithAuctionLock(_ context.Context, _ uuid.UUID, fn func(tx BidTx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(f.tx)
}

type fakeCache struct {
	entry *cache.HighestBidEntry

	setEntries   []*cache.HighestBidEntry
	increments   int
	participants []uuid.UUID
}

func (f *fakeCache) GetHighestBid(context.Context, uuid.UUID) (*cache.HighestBidEntry, bool) {
	return f.entry, f.entry != nil
}

func (f *fakeCache) SetHighestBid(_ context.Context, _ uuid.UUID, entry *cache.HighestBidEntry) error {
	f.setEntries = append(f.setEntries, entry)
	return nil
}

func (f *fakeCache) IncrementBidCount(context.Context, uuid.UUID) (int64, error) {
	f.increments++
	return int64(f.increments), nil
}

func (f *fakeCache) AddParticipant(_ context.Context, _ uuid.UUID, bidderID uuid.UUID) error {
	f.participants = append(f.participants, bidderID)
	return nil
}

type fakeLimiter struct {
	allowed bool
	err     error
	calls   int
}

func (f *fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	f.calls++
	return f.allowed, f.err
}

type newBidCall struct {
	auction *auction.Auction
	newBid  *bid.Bid
	outbid  *bid.Bid
}

type fakeNotifier struct {
	calls []newBidCall
}

func (f *fakeNotifier) NotifyNewBid(_ context.Context, a *auction.Auction, newBid, outbid *bid.Bid) {
	f.calls = append(f.calls, newBidCall{auction: a, newBid: newBid, outbid: outbid})
}

type fixture struct {
	svc      *Service
	tx       *fakeTx
	cache    *fakeCache
	limiter  *fakeLimiter
	notifier *fakeNotifier
	auction  *auction.Auction
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	a := &auction.Auction{
		ID:            uuid.New(),
		SellerID:      uuid.New(),
		Title:         "vintage camera",
		StartingPrice: money("100"),
		BidIncrement:  money("5"),
		StartTime:     now.Add(-30 * time.Minute),
		EndTime:       now.Add(30 * time.Minute),
		Status:        auction.StatusActive,
	}

	tx := &fakeTx{auction: a}
	fc := &fakeCache{}
	limiter := &fakeLimiter{allowed: true}
	notifier := &fakeNotifier{}

	svc := NewService(&fakeUoW{tx: tx}, fc, limiter, notifier, zaptest.NewLogger(t), Config{})
	svc.now = func() time.Time { return now }

	return &fixture{svc: svc, tx: tx, cache: fc, limiter: limiter, notifier: notifier, auction: a, now: now}
}

func (f *fixture) placeBid(t *testing.T, bidderID uuid.UUID, amount any) (*PlaceBidResult, error) {
	t.Helper()
	return f.svc.PlaceBid(context.Background(), &PlaceBidRequest{
		AuctionID: f.auction.ID,
		BidderID:  bidderID,
		Amount:    amount,
	})
}

func TestPlaceBidFirstBid(t *testing.T) {
	f := newFixture(t)
	bidder := uuid.New()

	result, err := f.placeBid(t, bidder, "105.00")
	require.NoError(t, err)

	require.Len(t, f.tx.inserted, 1)
	accepted := f.tx.inserted[0]
	assert.Equal(t, bidder, accepted.BidderID)
	assert.True(t, accepted.IsWinning)
	assert.Equal(t, bid.StatusWinning, accepted.Status)
	assert.Empty(t, f.tx.demoted)

	require.Len(t, f.tx.recorded, 1)
	assert.True(t, f.tx.recorded[0].Equal(money("105")))

	require.NotNil(t, result.Auction.CurrentPrice)
	assert.True(t, result.Auction.CurrentPrice.Equal(money("105")))
	assert.True(t, result.MinimumNextBid.Equal(money("110")))
}

func TestPlaceBidBoundary(t *testing.T) {
	// Minimum is floor + increment, strictly
	tests := []struct {
		name    string
		amount  string
		wantErr string
	}{
		{name: "exactly minimum accepted", amount: "105.00"},
		{name: "above minimum accepted", amount: "105.01"},
		{name: "one cent short rejected", amount: "104.99", wantErr: "BID_TOO_LOW"},
		{name: "equal to floor rejected", amount: "100.00", wantErr: "BID_TOO_LOW"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.placeBid(t, uuid.New(), tt.amount)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.wantErr))
			assert.Empty(t, f.tx.inserted)
		})
	}
}

func TestPlaceBidTooLowCarriesMinimum(t *testing.T) {
	f := newFixture(t)

	_, err := f.placeBid(t, uuid.New(), "101")
	require.Error(t, err)

	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, "BID_TOO_LOW", appErr.Code)
	assert.Equal(t, "105.00 USD", appErr.Details["minimum_bid"])
}

func TestPlaceBidDemotesPriorWinner(t *testing.T) {
	f := newFixture(t)
	prior := bid.New(f.auction.ID, uuid.New(), money("110"))
	f.tx.highest = prior
	current := money("110")
	f.auction.CurrentPrice = &current

	result, err := f.placeBid(t, uuid.New(), "115.00")
	require.NoError(t, err)

	require.Len(t, f.tx.demoted, 1)
	assert.Equal(t, prior.ID, f.tx.demoted[0])
	assert.True(t, result.Bid.Amount.Equal(money("115")))

	// The demoted bidder is handed to the notifier as the outbid party
	require.Len(t, f.notifier.calls, 1)
	require.NotNil(t, f.notifier.calls[0].outbid)
	assert.Equal(t, prior.BidderID, f.notifier.calls[0].outbid.BidderID)
}

func TestPlaceBidDemoteHappensBeforeInsert(t *testing.T) {
	// The bids table carries a partial unique index on (auction_id) WHERE
	// is_winning: two winning rows never coexist, not even between the
	// statements of one transaction. Inserting first would trip it.
	f := newFixture(t)
	prior := bid.New(f.auction.ID, uuid.New(), money("110"))
	f.tx.highest = prior
	current := money("110")
	f.auction.CurrentPrice = &current

	_, err := f.placeBid(t, uuid.New(), "115.00")
	require.NoError(t, err)

	assert.Equal(t, []string{"demote", "insert"}, f.tx.ops)
}

func TestPlaceBidMonotonicFloor(t *testing.T) {
	// A second bid must clear the new floor, not the starting price
	f := newFixture(t)
	prior := bid.New(f.auction.ID, uuid.New(), money("150"))
	f.tx.highest = prior
	current := money("150")
	f.auction.CurrentPrice = &current

	_, err := f.placeBid(t, uuid.New(), "120.00")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "BID_TOO_LOW"))
}

func TestPlaceBidUsesCachedFloor(t *testing.T) {
	f := newFixture(t)
	cachedBidder := uuid.New()
	current := money("110")
	f.auction.CurrentPrice = &current
	f.cache.entry = &cache.HighestBidEntry{
		BidID:    uuid.New(),
		BidderID: cachedBidder,
		Amount:   "120",
		BidTime:  f.now.Add(-time.Minute),
	}

	// Below cached floor + increment even though it clears the row mirror
	_, err := f.placeBid(t, uuid.New(), "121.00")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "BID_TOO_LOW"))

	// Clearing the cached floor wins and demotes the cached bid
	result, err := f.placeBid(t, uuid.New(), "125.00")
	require.NoError(t, err)
	assert.True(t, result.Bid.Amount.Equal(money("125")))
	require.Len(t, f.tx.demoted, 1)
	assert.Equal(t, f.cache.entry.BidID, f.tx.demoted[0])
}

func TestPlaceBidStaleCacheFallsBackToLedger(t *testing.T) {
	f := newFixture(t)
	current := money("150")
	f.auction.CurrentPrice = &current
	// Cache lags behind the locked row; it must not lower the floor
	f.cache.entry = &cache.HighestBidEntry{
		BidID:    uuid.New(),
		BidderID: uuid.New(),
		Amount:   "110",
	}
	ledgerBid := bid.New(f.auction.ID, uuid.New(), money("150"))
	f.tx.highest = ledgerBid

	_, err := f.placeBid(t, uuid.New(), "120.00")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "BID_TOO_LOW"))

	result, err := f.placeBid(t, uuid.New(), "155.00")
	require.NoError(t, err)
	require.Len(t, f.tx.demoted, 1)
	assert.Equal(t, ledgerBid.ID, f.tx.demoted[0])
	assert.True(t, result.Bid.Amount.Equal(money("155")))
}

func TestPlaceBidSelfBid(t *testing.T) {
	f := newFixture(t)

	_, err := f.placeBid(t, f.auction.SellerID, "105.00")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "SELF_BID_FORBIDDEN"))
	assert.Empty(t, f.tx.inserted)
}

func TestPlaceBidOutsideWindow(t *testing.T) {
	tests := []struct {
		name  string
		shift time.Duration
	}{
		{name: "before start", shift: -time.Hour},
		{name: "after end", shift: time.Hour},
		{name: "exactly at end", shift: 30 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.svc.now = func() time.Time { return f.now.Add(tt.shift) }

			_, err := f.placeBid(t, uuid.New(), "105.00")
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, "AUCTION_NOT_ACTIVE"))
			assert.Empty(t, f.tx.inserted)
		})
	}
}

func TestPlaceBidTimeWindowBeatsPersistedStatus(t *testing.T) {
	// The sweeper may lag; a row still marked pending accepts bids inside
	// the window
	f := newFixture(t)
	f.auction.Status = auction.StatusPending

	_, err := f.placeBid(t, uuid.New(), "105.00")
	assert.NoError(t, err)
}

func TestPlaceBidInvalidAmount(t *testing.T) {
	for _, amount := range []any{nil, "abc", "-5", "0", false} {
		f := newFixture(t)
		_, err := f.placeBid(t, uuid.New(), amount)
		require.Error(t, err, "amount %v", amount)
		assert.True(t, errors.IsCode(err, "INVALID_AMOUNT"), "amount %v", amount)
	}
}

func TestPlaceBidMissingIDs(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.PlaceBid(context.Background(), &PlaceBidRequest{
		BidderID: uuid.New(), Amount: "105",
	})
	assert.True(t, errors.IsCode(err, "MISSING_AUCTION_ID"))

	_, err = f.svc.PlaceBid(context.Background(), &PlaceBidRequest{
		AuctionID: uuid.New(), Amount: "105",
	})
	assert.True(t, errors.IsCode(err, "MISSING_BIDDER_ID"))
}

func TestPlaceBidRateLimited(t *testing.T) {
	f := newFixture(t)
	f.limiter.allowed = false

	_, err := f.placeBid(t, uuid.New(), "105.00")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "RATE_LIMIT_EXCEEDED"))
	assert.True(t, errors.IsRetryable(err))
	assert.Empty(t, f.tx.inserted)
}

func TestPlaceBidLimiterFailsOpen(t *testing.T) {
	f := newFixture(t)
	f.limiter.allowed = false
	f.limiter.err = context.DeadlineExceeded

	_, err := f.placeBid(t, uuid.New(), "105.00")
	assert.NoError(t, err)
	assert.Len(t, f.tx.inserted, 1)
}

func TestPlaceBidDispatch(t *testing.T) {
	f := newFixture(t)
	bidder := uuid.New()

	_, err := f.placeBid(t, bidder, "105.00")
	require.NoError(t, err)

	require.Len(t, f.cache.setEntries, 1)
	assert.Equal(t, "105", f.cache.setEntries[0].Amount)
	assert.Equal(t, bidder, f.cache.setEntries[0].BidderID)
	assert.Equal(t, 1, f.cache.increments)
	assert.Equal(t, []uuid.UUID{bidder}, f.cache.participants)

	require.Len(t, f.notifier.calls, 1)
	assert.Nil(t, f.notifier.calls[0].outbid)
}

func TestPlaceBidTransactionErrorPropagates(t *testing.T) {
	f := newFixture(t)
	conflict := errors.NewConflictError("bid conflicts with a concurrent update, retry")
	f.svc.uow = &fakeUoW{err: conflict}

	_, err := f.placeBid(t, uuid.New(), "105.00")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "TRANSACTION_CONFLICT"))
	assert.True(t, errors.IsRetryable(err))
	// No dispatch on a failed transaction
	assert.Empty(t, f.cache.setEntries)
	assert.Empty(t, f.notifier.calls)
}
