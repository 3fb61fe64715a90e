package rest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gaveldrop/auction-backend/internal/api/websocket"
	"github.com/gaveldrop/auction-backend/internal/domain/auction"
	"github.com/gaveldrop/auction-backend/internal/domain/errors"
	"github.com/gaveldrop/auction-backend/internal/domain/values"
	"github.com/gaveldrop/auction-backend/internal/infrastructure/repository"
	"github.com/gaveldrop/auction-backend/internal/service/bidding"
	"github.com/gaveldrop/auction-backend/internal/service/decision"
)

// Handler carries the service dependencies for the REST endpoints.
// Identities arrive authenticated upstream; the caller's user id is read
// from the X-User-ID header.
type Handler struct {
	bids      *bidding.Service
	decisions *decision.Service
	auctions  *repository.AuctionRepository
	bidLedger *repository.BidRepository
	hub       *websocket.Hub
	validate  *validator.Validate
	logger    *zap.Logger
	upgrader  gorillaws.Upgrader
}

func NewHandler(bids *bidding.Service, decisions *decision.Service, auctions *repository.AuctionRepository, bidLedger *repository.BidRepository, hub *websocket.Hub, logger *zap.Logger) *Handler {
	return &Handler{
		bids:      bids,
		decisions: decisions,
		auctions:  auctions,
		bidLedger: bidLedger,
		hub:       hub,
		validate:  validator.New(),
		logger:    logger,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

type placeBidPayload struct {
	Amount any `json:"amount" validate:"required"`
}

type createAuctionPayload struct {
	Title         string    `json:"title" validate:"required,min=3,max=200"`
	StartingPrice any       `json:"starting_price" validate:"required"`
	BidIncrement  any       `json:"bid_increment" validate:"required"`
	StartTime     time.Time `json:"start_time" validate:"required"`
	EndTime       time.Time `json:"end_time" validate:"required"`
}

type counterOfferPayload struct {
	Amount any `json:"amount" validate:"required"`
}

type counterResponsePayload struct {
	Accept *bool `json:"accept" validate:"required"`
}

// PlaceBid handles POST /api/v1/auctions/{id}/bids
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var payload placeBidPayload
	if !h.decode(w, r, &payload) {
		return
	}

	result, err := h.bids.PlaceBid(r.Context(), &bidding.PlaceBidRequest{
		AuctionID: auctionID,
		BidderID:  userID,
		Amount:    payload.Amount,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// CreateAuction handles POST /api/v1/auctions. The caller becomes the seller
// and the auction starts out pending until the sweeper activates it.
func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var payload createAuctionPayload
	if !h.decode(w, r, &payload) {
		return
	}

	starting, err := values.NewMoneyFromInput(payload.StartingPrice, values.USD)
	if err != nil {
		h.writeError(w, errors.ErrInvalidAmount)
		return
	}
	increment, err := values.NewMoneyFromInput(payload.BidIncrement, values.USD)
	if err != nil {
		h.writeError(w, errors.ErrInvalidAmount)
		return
	}

	a, err := auction.New(sellerID, payload.Title, starting, increment, payload.StartTime, payload.EndTime)
	if err != nil {
		h.writeError(w, errors.NewValidationError("INVALID_AUCTION", err.Error()))
		return
	}

	if err := h.auctions.Create(r.Context(), a); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, auctionSummary(a, time.Now().UTC()))
}

// ListBids handles GET /api/v1/auctions/{id}/bids, highest amount first
func (h *Handler) ListBids(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if _, err := h.auctions.GetByID(r.Context(), auctionID); err != nil {
		if stderrors.Is(err, repository.ErrAuctionNotFound) {
			h.writeError(w, errors.ErrAuctionNotFound)
			return
		}
		h.writeError(w, err)
		return
	}

	bids, err := h.bidLedger.ListByAuction(r.Context(), auctionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"bids": bids})
}

// GetAuction handles GET /api/v1/auctions/{id}
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	a, err := h.auctions.GetByID(r.Context(), auctionID)
	if err != nil {
		if stderrors.Is(err, repository.ErrAuctionNotFound) {
			h.writeError(w, errors.ErrAuctionNotFound)
			return
		}
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, auctionSummary(a, time.Now().UTC()))
}

// AcceptBid handles POST /api/v1/auctions/{id}/decision/accept
func (h *Handler) AcceptBid(w http.ResponseWriter, r *http.Request) {
	h.sellerDecision(w, r, h.decisions.Accept)
}

// RejectBid handles POST /api/v1/auctions/{id}/decision/reject
func (h *Handler) RejectBid(w http.ResponseWriter, r *http.Request) {
	h.sellerDecision(w, r, h.decisions.Reject)
}

func (h *Handler) sellerDecision(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, auctionID, sellerID uuid.UUID) (*auction.Auction, error)) {
	auctionID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	a, err := op(r.Context(), auctionID, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, auctionSummary(a, time.Now().UTC()))
}

// CounterOffer handles POST /api/v1/auctions/{id}/decision/counter
func (h *Handler) CounterOffer(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var payload counterOfferPayload
	if !h.decode(w, r, &payload) {
		return
	}

	a, err := h.decisions.CounterOffer(r.Context(), auctionID, userID, payload.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, auctionSummary(a, time.Now().UTC()))
}

// RespondToCounter handles POST /api/v1/auctions/{id}/counter-response
func (h *Handler) RespondToCounter(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var payload counterResponsePayload
	if !h.decode(w, r, &payload) {
		return
	}

	a, err := h.decisions.RespondToCounter(r.Context(), auctionID, userID, *payload.Accept)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, auctionSummary(a, time.Now().UTC()))
}

// ServeWS handles GET /ws, upgrading to the auction event stream
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, _ := uuid.Parse(r.Header.Get("X-User-ID"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := websocket.NewClient(conn, h.hub, userID)
	h.hub.RegisterClient(client)
	go client.WritePump()
	go client.ReadPump()
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auctionSummary shapes an auction for API responses: the persisted record
// plus the time-derived status and the next acceptable bid
func auctionSummary(a *auction.Auction, now time.Time) map[string]any {
	return map[string]any{
		"auction":          a,
		"effective_status": a.EffectiveStatus(now),
		"minimum_next_bid": a.MinimumNextBid(),
	}
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, errors.NewValidationError("INVALID_AUCTION_ID", "auction id must be a valid UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		h.writeError(w, errors.NewValidationError("MISSING_USER_ID", "X-User-ID header must carry the caller's UUID"))
		return uuid.Nil, false
	}
	return id, true
}

// decode parses and validates a JSON body. Numbers decode as json.Number so
// amounts keep their full precision.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dest); err != nil {
		h.writeError(w, errors.NewValidationError("INVALID_JSON", "request body must be valid JSON"))
		return false
	}
	if err := h.validate.Struct(dest); err != nil {
		h.writeError(w, errors.NewValidationError("MISSING_FIELD", "required field missing: "+err.Error()))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

type errorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := errors.GetStatusCode(err)
	body := errorBody{Code: "INTERNAL_ERROR", Message: "An internal error occurred"}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		body = errorBody{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Details:   appErr.Details,
			Retryable: appErr.Retryable,
		}
	} else {
		h.logger.Error("unhandled error", zap.Error(err))
	}

	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	h.writeJSON(w, status, map[string]any{"error": body})
}
