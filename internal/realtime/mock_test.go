package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// fakeSender captures outbound frames in order and can be told to start
// failing, to exercise delivery-failure isolation.
type fakeSender struct {
	mu      sync.Mutex
	frames  [][]byte
	failing bool
	closed  bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{}
}

func (s *fakeSender) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing || s.closed {
		return errors.New("transport closed")
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.frames = append(s.frames, buf)
	return nil
}

func (s *fakeSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSender) fail() {
	s.mu.Lock()
	s.failing = true
	s.mu.Unlock()
}

func (s *fakeSender) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// framesOfType decodes captured frames and returns those with the given type.
func (s *fakeSender) framesOfType(t MessageType) []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []map[string]interface{}
	for _, frame := range s.frames {
		var decoded map[string]interface{}
		if err := json.Unmarshal(frame, &decoded); err != nil {
			continue
		}
		if decoded["type"] == string(t) {
			out = append(out, decoded)
		}
	}
	return out
}

func (s *fakeSender) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// fakeVerifier resolves credentials from a fixed table.
type fakeVerifier struct {
	VerifyFunc func(ctx context.Context, credentials string) (*Identity, error)
}

func (v *fakeVerifier) Verify(ctx context.Context, credentials string) (*Identity, error) {
	if v.VerifyFunc != nil {
		return v.VerifyFunc(ctx, credentials)
	}
	return &Identity{UserID: uuid.New(), Username: "user-" + credentials, Email: credentials + "@example.com"}, nil
}

// fakeNotificationSink records MarkRead calls.
type fakeNotificationSink struct {
	mu    sync.Mutex
	reads []uuid.UUID
	err   error
}

func (s *fakeNotificationSink) MarkRead(ctx context.Context, notificationID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.reads = append(s.reads, notificationID)
	return nil
}

// fakeAIStreamer replays a canned chunk sequence.
type fakeAIStreamer struct {
	chunks []AIChunk
	err    error
}

func (s *fakeAIStreamer) Stream(ctx context.Context, prompt, contextText string) (<-chan AIChunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan AIChunk, len(s.chunks))
	for _, c := range s.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}

// newTestStack builds the full component stack without a manager.
func newTestStack() (*Registry, *Directory, *Tracker, *Broadcaster, *Router) {
	logger := testLogger()
	registry := NewRegistry()
	rooms := NewDirectory()
	broadcaster := NewBroadcaster(registry, rooms, logger)
	tracker := NewTracker(registry, rooms, broadcaster, logger)
	router := NewRouter(registry, rooms, tracker, broadcaster, logger)
	return registry, rooms, tracker, broadcaster, router
}

// connectUser registers a fresh connection for the user and returns it with
// its capturing sender.
func connectUser(registry *Registry, userID uuid.UUID, username string) (*Connection, *fakeSender) {
	sender := newFakeSender()
	c := NewConnection(Identity{UserID: userID, Username: username, Email: username + "@example.com"}, sender)
	if err := registry.Register(c); err != nil {
		panic(err)
	}
	c.setState(StateActive)
	return c, sender
}

func mustJSON(v interface{}) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
