package notification

// Event types emitted to the sinks. The websocket hub and the journal carry
// these verbatim on the wire.
const (
	EventNewBid           = "newBid"
	EventOutbid           = "outbid"
	EventAuctionStarted   = "auctionStarted"
	EventAuctionEnded     = "auctionEnded"
	EventAuctionCompleted = "auctionCompleted"
	EventCounterOffer     = "counterOffer"
)
