package auction

import "errors"

var (
	ErrInvalidStartingPrice = errors.New("starting price must be positive")
	ErrInvalidBidIncrement  = errors.New("bid increment must be positive")
	ErrInvalidTimeWindow    = errors.New("end time must be after start time")
)
