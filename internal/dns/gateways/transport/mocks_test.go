package transport

import (
	"sync"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/mock"

	"github.com/haukened/dohdec/internal/dns/domain"
	"github.com/haukened/dohdec/internal/dns/gateways/wire"
)

// MockDNSCodec implements wire.DNSCodec for testing
type MockDNSCodec struct {
	mock.Mock
}

func (m *MockDNSCodec) EncodeQuery(req domain.LookupRequest) ([]byte, error) {
	args := m.Called(req)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *MockDNSCodec) DecodeResponse(data []byte) (*dns.Msg, error) {
	args := m.Called(data)
	msg, _ := args.Get(0).(*dns.Msg)
	return msg, args.Error(1)
}

func (m *MockDNSCodec) DecodeJSON(data []byte) (*wire.JSONMessage, error) {
	args := m.Called(data)
	msg, _ := args.Get(0).(*wire.JSONMessage)
	return msg, args.Error(1)
}

// MockLogger implements log.Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Info(fields map[string]any, msg string)  { m.Called(fields, msg) }
func (m *MockLogger) Error(fields map[string]any, msg string) { m.Called(fields, msg) }
func (m *MockLogger) Debug(fields map[string]any, msg string) { m.Called(fields, msg) }
func (m *MockLogger) Warn(fields map[string]any, msg string)  { m.Called(fields, msg) }
func (m *MockLogger) Panic(fields map[string]any, msg string) { m.Called(fields, msg) }
func (m *MockLogger) Fatal(fields map[string]any, msg string) { m.Called(fields, msg) }

// testLogger provides a no-op logger for tests that don't need to verify logging
type testLogger struct{}

func (t *testLogger) Info(map[string]any, string)  {}
func (t *testLogger) Error(map[string]any, string) {}
func (t *testLogger) Debug(map[string]any, string) {}
func (t *testLogger) Warn(map[string]any, string)  {}
func (t *testLogger) Panic(map[string]any, string) {}
func (t *testLogger) Fatal(map[string]any, string) {}

// eventRecorder collects observer events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *eventRecorder) of(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// violationRecorder implements ViolationRecorder for testing
type violationRecorder struct {
	mu  sync.Mutex
	got []domain.Violation
}

func (r *violationRecorder) Record(v domain.Violation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, v)
}

func (r *violationRecorder) all() []domain.Violation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Violation(nil), r.got...)
}
