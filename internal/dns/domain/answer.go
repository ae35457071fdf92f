package domain

import "fmt"

// Answer is the presentation view of one resource record from a response.
type Answer struct {
	Name  string
	Type  string
	Class string
	TTL   uint32
	// Data is the record data in zone-file presentation form,
	// e.g. "4.31.198.44" or "30 30 5269 hermes2.jabber.org.".
	Data string
}

func (a Answer) String() string {
	return fmt.Sprintf("%s\t%d\t%s\t%s\t%s", a.Name, a.TTL, a.Class, a.Type, a.Data)
}
