package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gaveldrop/auction-backend/internal/domain/auction"
	"github.com/gaveldrop/auction-backend/internal/domain/bid"
	"github.com/gaveldrop/auction-backend/internal/infrastructure/email"
	"github.com/gaveldrop/auction-backend/internal/infrastructure/repository"
)

// EventSink receives real-time auction events. The websocket hub and the
// Kafka journal both implement it; emission never blocks and never fails
// the caller.
type EventSink interface {
	Emit(eventType string, auctionID uuid.UUID, data map[string]any)
}

// NotificationStore persists per-user notification rows
type NotificationStore interface {
	Create(ctx context.Context, n *repository.Notification) error
}

// ParticipantSource lists the bidders who took part in an auction
type ParticipantSource interface {
	Participants(ctx context.Context, auctionID uuid.UUID) ([]uuid.UUID, error)
}

// BidderSource is the ledger fallback when the participant cache is cold
type BidderSource interface {
	BidderIDs(ctx context.Context, auctionID uuid.UUID) ([]uuid.UUID, error)
}

// Notifier fans committed auction transitions out to every delivery channel:
// websocket events, persisted notification rows, email, and the event
// journal. Everything here is best effort; the transition it reports is
// already durable.
type Notifier struct {
	sinks        []EventSink
	store        NotificationStore
	participants ParticipantSource
	bidders      BidderSource
	mailer       email.Mailer
	logger       *zap.Logger
}

func NewNotifier(sinks []EventSink, store NotificationStore, participants ParticipantSource, bidders BidderSource, mailer email.Mailer, logger *zap.Logger) *Notifier {
	return &Notifier{
		sinks:        sinks,
		store:        store,
		participants: participants,
		bidders:      bidders,
		mailer:       mailer,
		logger:       logger,
	}
}

// NotifyNewBid announces an accepted bid: room broadcast, an outbid notice
// for the demoted bidder, and a notice for the seller.
func (n *Notifier) NotifyNewBid(ctx context.Context, a *auction.Auction, newBid *bid.Bid, outbid *bid.Bid) {
	amount := newBid.Amount.String()

	n.emit(EventNewBid, a.ID, map[string]any{
		"bid_id":           newBid.ID.String(),
		"bidder_id":        newBid.BidderID.String(),
		"amount":           amount,
		"minimum_next_bid": a.MinimumNextBid().String(),
	})

	if outbid != nil && outbid.BidderID != newBid.BidderID {
		n.emit(EventOutbid, a.ID, map[string]any{
			"bidder_id":  outbid.BidderID.String(),
			"new_amount": amount,
		})
		n.persist(ctx, outbid.BidderID, "outbid",
			"You have been outbid",
			fmt.Sprintf("A higher bid of %s was placed on %q.", amount, a.Title),
			map[string]any{"auction_id": a.ID.String(), "amount": amount})
	}

	n.persist(ctx, a.SellerID, "new_bid",
		"New bid on your auction",
		fmt.Sprintf("%q received a bid of %s.", a.Title, amount),
		map[string]any{"auction_id": a.ID.String(), "amount": amount})
}

// NotifyAuctionStarted announces a pending auction going active
func (n *Notifier) NotifyAuctionStarted(ctx context.Context, a *auction.Auction) {
	n.emit(EventAuctionStarted, a.ID, map[string]any{
		"title":          a.Title,
		"starting_price": a.StartingPrice.String(),
		"end_time":       a.EndTime,
	})

	n.persist(ctx, a.SellerID, "auction_started",
		"Your auction is live",
		fmt.Sprintf("%q is now accepting bids.", a.Title),
		map[string]any{"auction_id": a.ID.String()})
}

// NotifyAuctionEnded announces the close of bidding. With a winner the
// seller and winner are notified directly, every other participant gets a
// lost notice, and both seller and winner receive mail.
func (n *Notifier) NotifyAuctionEnded(ctx context.Context, a *auction.Auction, winning *bid.Bid) {
	data := map[string]any{"title": a.Title}
	if winning != nil {
		data["winning_bid_id"] = winning.ID.String()
		data["winner_id"] = winning.BidderID.String()
		data["amount"] = winning.Amount.String()
	}
	n.emit(EventAuctionEnded, a.ID, data)

	if winning == nil {
		n.persist(ctx, a.SellerID, "auction_ended",
			"Your auction ended without bids",
			fmt.Sprintf("%q closed with no bids.", a.Title),
			map[string]any{"auction_id": a.ID.String()})
		return
	}

	amount := winning.Amount.String()

	n.persist(ctx, a.SellerID, "auction_ended",
		"Your auction has ended",
		fmt.Sprintf("%q ended with a winning bid of %s. Accept, reject or counter.", a.Title, amount),
		map[string]any{"auction_id": a.ID.String(), "amount": amount})

	n.persist(ctx, winning.BidderID, "auction_won",
		"You won the auction",
		fmt.Sprintf("Your bid of %s on %q won, pending the seller's decision.", amount, a.Title),
		map[string]any{"auction_id": a.ID.String(), "amount": amount})

	for _, loser := range n.losingParticipants(ctx, a.ID, winning.BidderID) {
		n.persist(ctx, loser, "auction_lost",
			"Auction ended",
			fmt.Sprintf("%q ended; your bid did not win.", a.Title),
			map[string]any{"auction_id": a.ID.String()})
	}

	n.mail(ctx, a.SellerID, "Your auction has ended",
		fmt.Sprintf("%q ended with a winning bid of %s. Log in to accept, reject or counter.", a.Title, amount))
	n.mail(ctx, winning.BidderID, "You won the auction",
		fmt.Sprintf("Your bid of %s on %q won, pending the seller's decision.", amount, a.Title))
}

// NotifyAuctionCompleted announces a terminal accept and sends the invoices
func (n *Notifier) NotifyAuctionCompleted(ctx context.Context, a *auction.Auction) {
	final := ""
	if a.FinalPrice != nil {
		final = a.FinalPrice.String()
	}

	n.emit(EventAuctionCompleted, a.ID, map[string]any{
		"title":       a.Title,
		"final_price": final,
	})

	if a.WinnerID != nil {
		n.persist(ctx, *a.WinnerID, "auction_completed",
			"Sale confirmed",
			fmt.Sprintf("The sale of %q at %s is confirmed.", a.Title, final),
			map[string]any{"auction_id": a.ID.String(), "final_price": final})
		n.mail(ctx, *a.WinnerID, "Invoice: "+a.Title,
			fmt.Sprintf("Your purchase of %q for %s is confirmed. An invoice is attached to your account.", a.Title, final))
	}

	n.persist(ctx, a.SellerID, "auction_completed",
		"Sale confirmed",
		fmt.Sprintf("The sale of %q at %s is confirmed.", a.Title, final),
		map[string]any{"auction_id": a.ID.String(), "final_price": final})
	n.mail(ctx, a.SellerID, "Invoice: "+a.Title,
		fmt.Sprintf("Your sale of %q for %s is confirmed. An invoice is attached to your account.", a.Title, final))
}

// NotifyCounterOffer tells the winning bidder the seller countered
func (n *Notifier) NotifyCounterOffer(ctx context.Context, a *auction.Auction) {
	if a.WinnerID == nil || a.CounterOfferAmount == nil {
		return
	}
	amount := a.CounterOfferAmount.String()

	n.emit(EventCounterOffer, a.ID, map[string]any{
		"winner_id": a.WinnerID.String(),
		"amount":    amount,
	})

	n.persist(ctx, *a.WinnerID, "counter_offer",
		"Counter offer received",
		fmt.Sprintf("The seller countered at %s on %q.", amount, a.Title),
		map[string]any{"auction_id": a.ID.String(), "amount": amount})
}

// NotifyAuctionRejected tells the counterpart the deal is off. bySeller
// distinguishes a seller rejection from a declined counter offer.
func (n *Notifier) NotifyAuctionRejected(ctx context.Context, a *auction.Auction, bySeller bool) {
	if bySeller {
		if a.WinnerID != nil {
			n.persist(ctx, *a.WinnerID, "bid_rejected",
				"Winning bid rejected",
				fmt.Sprintf("The seller declined the winning bid on %q.", a.Title),
				map[string]any{"auction_id": a.ID.String()})
		}
		return
	}
	n.persist(ctx, a.SellerID, "counter_rejected",
		"Counter offer declined",
		fmt.Sprintf("The winning bidder declined your counter offer on %q.", a.Title),
		map[string]any{"auction_id": a.ID.String()})
}

// losingParticipants returns all bidders except the winner, preferring the
// cached participant set and falling back to the ledger.
func (n *Notifier) losingParticipants(ctx context.Context, auctionID, winnerID uuid.UUID) []uuid.UUID {
	ids, err := n.participants.Participants(ctx, auctionID)
	if err != nil || len(ids) == 0 {
		ids, err = n.bidders.BidderIDs(ctx, auctionID)
		if err != nil {
			n.logger.Warn("failed to list auction bidders",
				zap.String("auction_id", auctionID.String()), zap.Error(err))
			return nil
		}
	}

	losers := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != winnerID {
			losers = append(losers, id)
		}
	}
	return losers
}

func (n *Notifier) emit(eventType string, auctionID uuid.UUID, data map[string]any) {
	for _, sink := range n.sinks {
		sink.Emit(eventType, auctionID, data)
	}
}

func (n *Notifier) persist(ctx context.Context, userID uuid.UUID, notifType, title, message string, data map[string]any) {
	err := n.store.Create(ctx, &repository.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      notifType,
		Title:     title,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		n.logger.Warn("failed to persist notification",
			zap.String("user_id", userID.String()),
			zap.String("type", notifType),
			zap.Error(err))
	}
}

func (n *Notifier) mail(ctx context.Context, userID uuid.UUID, subject, body string) {
	if n.mailer == nil {
		return
	}
	if err := n.mailer.SendToUser(ctx, userID, subject, body); err != nil {
		n.logger.Warn("failed to send email",
			zap.String("user_id", userID.String()),
			zap.String("subject", subject),
			zap.Error(err))
	}
}
