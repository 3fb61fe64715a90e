package notification

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

type emittedEvent struct {
	eventType string
	auctionID uuid.UUID
	data      map[string]any
}

type fakeSink struct {
	events []emittedEvent
}

func (f *fakeSink) Emit(eventType string, auctionID uuid.UUID, data map[string]any) {
	f.events = append(f.events, emittedEvent{eventType: eventType, auctionID: auctionID, data: data})
}

type fakeStore struct {
	rows      []*repository.Notification
	createErr error
}

func (f *fakeStore) Create(_ context.Context, n *repository.Notification) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.rows = append(f.rows, n)
	return nil
}

func (f *fakeStore) rowsFor(userID uuid.UUID) []*repository.Notification {
	var out []*repository.Notification
	for _, r := range f.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}

type fakeParticipants struct {
	ids []uuid.UUID
	err error
}

func (f *fakeParticipants) Participants(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return f.ids, f.err
}

type fakeBidders struct {
	ids   []uuid.UUID
	calls int
}

func (f *fakeBidders) BidderIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	f.calls++
	return f.ids, nil
}

type sentMail struct {
	userID  uuid.UUID
	subject string
}

type fakeMailer struct {
	sent []sentMail
}

func (f *fakeMailer) SendToUser(_ context.Context, userID uuid.UUID, subject, _ string) error {
	f.sent = append(f.sent, sentMail{userID: userID, subject: subject})
	return nil
}

type fixture struct {
	notifier     *Notifier
	sink         *fakeSink
	store        *fakeStore
	participants *fakeParticipants
	bidders      *fakeBidders
	mailer       *fakeMailer
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		sink:         &fakeSink{},
		store:        &fakeStore{},
		participants: &fakeParticipants{},
		bidders:      &fakeBidders{},
		mailer:       &fakeMailer{},
	}
	f.notifier = NewNotifier([]EventSink{f.sink}, f.store, f.participants, f.bidders, f.mailer, zaptest.NewLogger(t))
	return f
}

func money(s string) values.Money {
	return values.MustNewMoneyFromString(s, values.USD)
}

func activeAuction() *auction.Auction {
	return &auction.Auction{
		ID:            uuid.New(),
		SellerID:      uuid.New(),
		Title:         "vintage camera",
		StartingPrice: money("100"),
		BidIncrement:  money("5"),
		StartTime:     time.Now().Add(-time.Hour),
		EndTime:       time.Now().Add(time.Hour),
		Status:        auction.StatusActive,
	}
}

func TestNotifyNewBid(t *testing.T) {
	f := newFixture(t)
	a := activeAuction()
	newBid := bid.New(a.ID, uuid.New(), money("110"))
	outbid := bid.New(a.ID, uuid.New(), money("105"))

	f.notifier.NotifyNewBid(context.Background(), a, newBid, outbid)

	require.Len(t, f.sink.events, 2)
	assert.Equal(t, EventNewBid, f.sink.events[0].eventType)
	assert.Equal(t, a.ID, f.sink.events[0].auctionID)
	assert.Equal(t, "110.00 USD", f.sink.events[0].data["amount"])
	assert.Equal(t, EventOutbid, f.sink.events[1].eventType)
	assert.Equal(t, outbid.BidderID.String(), f.sink.events[1].data["bidder_id"])

	outbidRows := f.store.rowsFor(outbid.BidderID)
	require.Len(t, outbidRows, 1)
	assert.Equal(t, "outbid", outbidRows[0].Type)

	sellerRows := f.store.rowsFor(a.SellerID)
	require.Len(t, sellerRows, 1)
	assert.Equal(t, "new_bid", sellerRows[0].Type)
}

func TestNotifyNewBidSameBidderRaisesOwnBid(t *testing.T) {
	f := newFixture(t)
	a := activeAuction()
	bidder := uuid.New()
	newBid := bid.New(a.ID, bidder, money("110"))
	prior := bid.New(a.ID, bidder, money("105"))

	f.notifier.NotifyNewBid(context.Background(), a, newBid, prior)

	// No outbid notice when a bidder raises their own bid
	require.Len(t, f.sink.events, 1)
	assert.Equal(t, EventNewBid, f.sink.events[0].eventType)
	assert.Empty(t, f.store.rowsFor(bidder))
}

func TestNotifyNewBidFirstBid(t *testing.T) {
	f := newFixture(t)
	a := activeAuction()
	newBid := bid.New(a.ID, uuid.New(), money("100"))

	f.notifier.NotifyNewBid(context.Background(), a, newBid, nil)

	require.Len(t, f.sink.events, 1)
	assert.Equal(t, EventNewBid, f.sink.events[0].eventType)
}

func TestNotifyAuctionStarted(t *testing.T) {
	f := newFixture(t)
	a := activeAuction()

	f.notifier.NotifyAuctionStarted(context.Background(), a)

	require.Len(t, f.sink.events, 1)
	assert.Equal(t, EventAuctionStarted, f.sink.events[0].eventType)

	rows := f.store.rowsFor(a.SellerID)
	require.Len(t, rows, 1)
	assert.Equal(t, "auction_started", rows[0].Type)
}

func TestNotifyAuctionEndedWithWinner(t *testing.T) {
	f := newFixture(t)
	a := activeAuction()
	winning := bid.New(a.ID, uuid.New(), money("150"))
	loser := uuid.New()
	f.participants.ids = []uuid.UUID{winning.BidderID, loser}

	f.notifier.NotifyAuctionEnded(context.Background(), a, winning)

	require.Len(t, f.sink.events, 1)
	assert.Equal(t, EventAuctionEnded, f.sink.events[0].eventType)
	assert.Equal(t, winning.BidderID.String(), f.sink.events[0].data["winner_id"])

	require.Len(t, f.store.rowsFor(a.SellerID), 1)
	winnerRows := f.store.rowsFor(winning.BidderID)
	require.Len(t, winnerRows, 1)
	assert.Equal(t, "auction_won", winnerRows[0].Type)

	loserRows := f.store.rowsFor(loser)
	require.Len(t, loserRows, 1)
	assert.Equal(t, "auction_lost", loserRows[0].Type)

	require.Len(t, f.mailer.sent, 2)
	assert.Equal(t, a.SellerID, f.mailer.sent[0].userID)
	assert.Equal(t, winning.BidderID, f.mailer.sent[1].userID)
}

func TestNotifyAuctionEndedFallsBackToLedger(t *testing.T) {
	f := newFixture(t)
	a := activeAuction()
	winning := bid.New(a.ID, uuid.New(), money("150"))
	loser := uuid.New()
	f.participants.err = fmt.Errorf("connection refused")
	f.bidders.ids = []uuid.UUID{winning.BidderID, loser}

	f.notifier.NotifyAuctionEnded(context.Background(), a, winning)

	assert.Equal(t, 1, f.bidders.calls)
	require.Len(t, f.store.rowsFor(loser), 1)
}

func TestNotifyAuctionEndedWithoutBids(t *testing.T) {
	f := newFixture(t)
	a := activeAuction()

	f.notifier.NotifyAuctionEnded(context.Background(), a, nil)

	require.Len(t, f.sink.events, 1)
	rows := f.store.rowsFor(a.SellerID)
	require.Len(t, rows, 1)
	assert.Equal(t, "auction_ended", rows[0].Type)
	assert.Empty(t, f.mailer.sent)
}

func TestNotifyAuctionCompleted(t *testing.T) {
	f := newFixture(t)
	a := activeAuction()
	winner := uuid.New()
	final := money("150")
	a.WinnerID = &winner
	a.FinalPrice = &final

	f.notifier.NotifyAuctionCompleted(context.Background(), a)

	require.Len(t, f.sink.events, 1)
	assert.Equal(t, EventAuctionCompleted, f.sink.events[0].eventType)
	assert.Equal(t, "150.00 USD", f.sink.events[0].data["final_price"])

	require.Len(t, f.store.rowsFor(winner), 1)
	require.Len(t, f.store.rowsFor(a.SellerID), 1)
	require.Len(t, f.mailer.sent, 2)
	assert.Equal(t, "Invoice: vintage camera", f.mailer.sent[0].subject)
}

func TestNotifyCounterOffer(t *testing.T) {
	f := newFixture(t)
	a := activeAuction()
	winner := uuid.New()
	counter := money("175")
	a.WinnerID = &winner
	a.CounterOfferAmount = &counter

	f.notifier.NotifyCounterOffer(context.Background(), a)

	require.Len(t, f.sink.events, 1)
	assert.Equal(t, EventCounterOffer, f.sink.events[0].eventType)

	rows := f.store.rowsFor(winner)
	require.Len(t, rows, 1)
	assert.Equal(t, "counter_offer", rows[0].Type)
}

func TestNotifyCounterOfferWithoutWinnerIsANoop(t *testing.T) {
	f := newFixture(t)
	a := activeAuction()

	f.notifier.NotifyCounterOffer(context.Background(), a)

	assert.Empty(t, f.sink.events)
	assert.Empty(t, f.store.rows)
}

func TestNotifyAuctionRejected(t *testing.T) {
	f := newFixture(t)
	a := activeAuction()
	winner := uuid.New()
	a.WinnerID = &winner

	f.notifier.NotifyAuctionRejected(context.Background(), a, true)
	rows := f.store.rowsFor(winner)
	require.Len(t, rows, 1)
	assert.Equal(t, "bid_rejected", rows[0].Type)

	f.notifier.NotifyAuctionRejected(context.Background(), a, false)
	sellerRows := f.store.rowsFor(a.SellerID)
	require.Len(t, sellerRows, 1)
	assert.Equal(t, "counter_rejected", sellerRows[0].Type)
}

func TestPersistFailureDoesNotPanic(t *testing.T) {
	f := newFixture(t)
	f.store.createErr = fmt.Errorf("disk full")
	a := activeAuction()

	f.notifier.NotifyAuctionStarted(context.Background(), a)

	require.Len(t, f.sink.events, 1)
	assert.Empty(t, f.store.rows)
}
