package domain

import "time"

// Violation records a response that could not be matched to any pending
// request. The connection it arrived on is closed when one is seen.
type Violation struct {
	Transport string
	Remote    string
	ID        uint16
	Frame     []byte
	At        time.Time
}
