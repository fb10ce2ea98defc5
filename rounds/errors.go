package rounds

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
)

var (
	// ErrNotFound is returned when no round is recorded under the
	// caller's identity and round id.
	ErrNotFound = leveldb.ErrNotFound

	ErrRoundExists            = errors.New("round already exists")
	ErrInvalidCardCount       = errors.New("invalid card count")
	ErrCardIndexOutOfBounds   = errors.New("card index out of bounds")
	ErrRoundIDMismatch        = errors.New("round id mismatch")
	ErrUnauthorizedRoundOwner = errors.New("unauthorized round owner")
	ErrAbortedComputation     = errors.New("verification aborted")
	ErrRequestPending         = errors.New("verification request already pending")
	ErrTooManyPending         = errors.New("too many pending verification requests")
)
