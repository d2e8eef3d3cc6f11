package replay

import "errors"

// ErrCancelled names the caller-abandoned terminal state (spec.md §4.5/§7:
// "Cancellation: caller-initiated; not an error but a terminal state").
// The Driver does not return it: after cancellation, Driver.Next returns
// false and Driver.Err reports nil or context.Canceled.
var ErrCancelled = errors.New("replay: iteration cancelled")
