package extraction

import (
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
)

// ErrViewLost is returned inside the entry sequence when the collaborator
// can no longer vouch for the view it is reading (the page reloaded, the
// date filter reset, pagination broke). The session turns it into a
// NavigationError because the rest of the day cannot be trusted.
var ErrViewLost = errors.New("monitor view lost")

// NavigationError means the collaborator could not confirm the view shows
// the target day. The day is aborted.
type NavigationError struct {
	Date calendar.Date
	Err  error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate to %s: %v", e.Date, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// ExtractionError means one entry could not be read. The day goes on.
type ExtractionError struct {
	Date  calendar.Date
	Index int
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract entry %d of %s: %v", e.Index+1, e.Date, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
