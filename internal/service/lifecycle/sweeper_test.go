package lifecycle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gaveldrop/auction-backend/internal/domain/auction"
	"github.com/gaveldrop/auction-backend/internal/domain/bid"
	"github.com/gaveldrop/auction-backend/internal/domain/values"
	"github.com/gaveldrop/auction-backend/internal/infrastructure/repository"
)

type fakeStore struct {
	due           []*auction.Auction
	endCandidates []repository.EndCandidate

	activateResult map[uuid.UUID]bool
	activateErr    map[uuid.UUID]error
	activateCalls  []uuid.UUID

	endResult map[uuid.UUID]bool
	endErr    map[uuid.UUID]error
	endCalls  []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		activateResult: make(map[uuid.UUID]bool),
		activateErr:    make(map[uuid.UUID]error),
		endResult:      make(map[uuid.UUID]bool),
		endErr:         make(map[uuid.UUID]error),
	}
}

func (f *fakeStore) FindDueForActivation(context.Context, time.Time, int) ([]*auction.Auction, error) {
	return f.due, nil
}

func (f *fakeStore) Activate(_ context.Context, id uuid.UUID) (bool, error) {
	f.activateCalls = append(f.activateCalls, id)
	if err := f.activateErr[id]; err != nil {
		return false, err
	}
	return f.activateResult[id], nil
}

func (f *fakeStore) FindDueForEnd(context.Context, time.Time, int) ([]repository.EndCandidate, error) {
	return f.endCandidates, nil
}

func (f *fakeStore) End(_ context.Context, id uuid.UUID, _ *bid.Bid, _ time.Time) (bool, int64, error) {
	f.endCalls = append(f.endCalls, id)
	if err := f.endErr[id]; err != nil {
		return false, 0, err
	}
	return f.endResult[id], 2, nil
}

type fakeStatusCache struct {
	statuses map[uuid.UUID][]string
}

func (f *fakeStatusCache) SetStatus(_ context.Context, auctionID uuid.UUID, status string) error {
	if f.statuses == nil {
		f.statuses = make(map[uuid.UUID][]string)
	}
	f.statuses[auctionID] = append(f.statuses[auctionID], status)
	return nil
}

type endedCall struct {
	auction *auction.Auction
	winning *bid.Bid
}

type fakeNotifier struct {
	started []*auction.Auction
	ended   []endedCall
}

func (f *fakeNotifier) NotifyAuctionStarted(_ context.Context, a *auction.Auction) {
	f.started = append(f.started, a)
}

func (f *fakeNotifier) NotifyAuctionEnded(_ context.Context, a *auction.Auction, winning *bid.Bid) {
	f.ended = append(f.ended, endedCall{auction: a, winning: winning})
}

func money(s string) values.Money {
	return values.MustNewMoneyFromString(s, values.USD)
}

func pendingAuction(start, end time.Time) *auction.Auction {
	return &auction.Auction{
		ID:            uuid.New(),
		SellerID:      uuid.New(),
		Title:         "vintage camera",
		StartingPrice: money("100"),
		BidIncrement:  money("5"),
		StartTime:     start,
		EndTime:       end,
		Status:        auction.StatusPending,
	}
}

func newTestSweeper(t *testing.T, store *fakeStore) (*Sweeper, *fakeStatusCache, *fakeNotifier) {
	sc := &fakeStatusCache{}
	n := &fakeNotifier{}
	s := NewSweeper(store, sc, n, zaptest.NewLogger(t), Config{})
	return s, sc, n
}

func TestSweepActivatesDueAuctions(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeStore()
	a := pendingAuction(now.Add(-time.Minute), now.Add(time.Hour))
	store.due = []*auction.Auction{a}
	store.activateResult[a.ID] = true

	s, sc, n := newTestSweeper(t, store)
	s.Sweep(context.Background())

	assert.Equal(t, []uuid.UUID{a.ID}, store.activateCalls)
	require.Len(t, n.started, 1)
	assert.Equal(t, a.ID, n.started[0].ID)
	assert.Equal(t, auction.StatusActive, n.started[0].Status)
	assert.Equal(t, []string{"active"}, sc.statuses[a.ID])
}

func TestSweepLostActivationRaceSuppressesDispatch(t *testing.T) {
	// Zero rows affected means another actor transitioned the auction; no
	// side effects may fire here
	now := time.Now().UTC()
	store := newFakeStore()
	a := pendingAuction(now.Add(-time.Minute), now.Add(time.Hour))
	store.due = []*auction.Auction{a}
	store.activateResult[a.ID] = false

	s, sc, n := newTestSweeper(t, store)
	s.Sweep(context.Background())

	assert.Equal(t, []uuid.UUID{a.ID}, store.activateCalls)
	assert.Empty(t, n.started)
	assert.Empty(t, sc.statuses)
}

func TestDoubleSweepIsIdempotent(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeStore()
	a := pendingAuction(now.Add(-time.Minute), now.Add(time.Hour))
	store.due = []*auction.Auction{a}
	store.activateResult[a.ID] = true

	s, _, n := newTestSweeper(t, store)
	s.Sweep(context.Background())
	// The scan still returns the auction (e.g. replication lag); the dedup
	// set skips it without another conditional update
	s.Sweep(context.Background())

	assert.Equal(t, []uuid.UUID{a.ID}, store.activateCalls)
	assert.Len(t, n.started, 1)
}

func TestSweepEndsWithWinner(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeStore()
	a := pendingAuction(now.Add(-2*time.Hour), now.Add(-time.Minute))
	a.Status = auction.StatusActive
	winning := bid.New(a.ID, uuid.New(), money("150"))
	store.endCandidates = []repository.EndCandidate{{Auction: a, WinningBid: winning}}
	store.endResult[a.ID] = true

	s, sc, n := newTestSweeper(t, store)
	s.Sweep(context.Background())

	assert.Equal(t, []uuid.UUID{a.ID}, store.endCalls)
	require.Len(t, n.ended, 1)

	ended := n.ended[0].auction
	assert.Equal(t, auction.StatusEnded, ended.Status)
	assert.Equal(t, auction.DecisionPending, ended.SellerDecision)
	require.NotNil(t, ended.WinnerID)
	assert.Equal(t, winning.BidderID, *ended.WinnerID)
	require.NotNil(t, ended.CurrentPrice)
	assert.True(t, ended.CurrentPrice.Equal(money("150")))
	assert.Equal(t, winning.ID, n.ended[0].winning.ID)
	assert.Equal(t, []string{"ended"}, sc.statuses[a.ID])
}

func TestSweepEndsWithoutBids(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeStore()
	a := pendingAuction(now.Add(-2*time.Hour), now.Add(-time.Minute))
	a.Status = auction.StatusActive
	store.endCandidates = []repository.EndCandidate{{Auction: a}}
	store.endResult[a.ID] = true

	s, _, n := newTestSweeper(t, store)
	s.Sweep(context.Background())

	require.Len(t, n.ended, 1)
	ended := n.ended[0].auction
	assert.Equal(t, auction.StatusEnded, ended.Status)
	assert.Equal(t, auction.DecisionNone, ended.SellerDecision)
	assert.Nil(t, ended.WinnerID)
	assert.Nil(t, n.ended[0].winning)
}

func TestSweepIsolatesPerAuctionErrors(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeStore()
	bad := pendingAuction(now.Add(-time.Minute), now.Add(time.Hour))
	good := pendingAuction(now.Add(-time.Minute), now.Add(time.Hour))
	store.due = []*auction.Auction{bad, good}
	store.activateErr[bad.ID] = fmt.Errorf("connection reset")
	store.activateResult[good.ID] = true

	s, _, n := newTestSweeper(t, store)
	s.Sweep(context.Background())

	assert.Equal(t, []uuid.UUID{bad.ID, good.ID}, store.activateCalls)
	require.Len(t, n.started, 1)
	assert.Equal(t, good.ID, n.started[0].ID)
}

func TestSweepSkipsWhileInFlight(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeStore()
	a := pendingAuction(now.Add(-time.Minute), now.Add(time.Hour))
	store.due = []*auction.Auction{a}
	store.activateResult[a.ID] = true

	s, _, _ := newTestSweeper(t, store)
	s.mu.Lock()
	s.inFlight = true
	s.mu.Unlock()

	s.Sweep(context.Background())
	assert.Empty(t, store.activateCalls)
}

func TestDedupResetAllowsRedispatch(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeStore()
	a := pendingAuction(now.Add(-time.Minute), now.Add(time.Hour))
	store.due = []*auction.Auction{a}
	store.activateResult[a.ID] = true

	s, _, _ := newTestSweeper(t, store)
	s.Sweep(context.Background())
	assert.Len(t, store.activateCalls, 1)

	s.mu.Lock()
	s.dispatched = make(map[string]struct{})
	s.mu.Unlock()

	// After the periodic reset the conditional update decides again; a
	// false result keeps side effects suppressed
	store.activateResult[a.ID] = false
	s.Sweep(context.Background())
	assert.Len(t, store.activateCalls, 2)
}

func TestStartStop(t *testing.T) {
	store := newFakeStore()
	s, _, _ := newTestSweeper(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Stop()
}
