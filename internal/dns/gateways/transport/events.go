package transport

import (
	"encoding/hex"
	"fmt"

	"github.com/haukened/dohdec/internal/dns/common/log"
)

// EventKind identifies a connection lifecycle notification.
type EventKind int

const (
	EventConnect EventKind = iota + 1
	EventCertificate
	EventSend
	EventReceive
	EventDisconnect
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventCertificate:
		return "certificate"
	case EventSend:
		return "send"
	case EventReceive:
		return "receive"
	case EventDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered to an Observer. Data is a private copy the observer may keep.
type Event struct {
	Kind        EventKind
	Transport   TransportType
	Addr        string
	Host        string
	Data        []byte
	Certificate *CertificateIdentity
	Err         error
}

// Observer receives connection events. Observe is called synchronously on
// the goroutine that produced the event and must not block.
type Observer interface {
	Observe(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Observers fans events out to each non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var out multiObserver
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) Observe(e Event) {
	for _, o := range m {
		o.Observe(e)
	}
}

// LogObserver writes every event to logger at debug level.
func LogObserver(logger log.Logger) Observer {
	return ObserverFunc(func(e Event) {
		fields := map[string]any{
			"event":     e.Kind.String(),
			"transport": string(e.Transport),
			"server":    e.Addr,
		}
		if e.Data != nil {
			fields["size"] = len(e.Data)
			fields["raw"] = hexBytes(e.Data)
		}
		if e.Certificate != nil {
			fields["host"] = e.Host
			fields["cert_hash"] = e.Certificate.Hash
		}
		if e.Err != nil {
			fields["error"] = e.Err.Error()
		}
		logger.Debug(fields, "transport event")
	})
}

// hexBytes is formatted only when a log entry is actually written.
type hexBytes []byte

func (h hexBytes) String() string {
	return hex.EncodeToString(h)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
