package streaming

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"rtsp-orchestrator/internal/platform/logger"
)

var testLog = logger.Discard()

type fakeHandle struct {
	id string
}

func (h *fakeHandle) ID() string { return h.id }

// fakeExecutor rejects descriptions containing "invalid" at validation and
// descriptions containing "broken" at instantiation.
type fakeExecutor struct {
	mu           sync.Mutex
	seq          int
	instantiated int
	tornDown     int
	live         map[string]bool
	events       *eventLog
	teardownErr  error
	teardownHang chan struct{}
}

func newFakeExecutor(events *eventLog) *fakeExecutor {
	return &fakeExecutor{live: make(map[string]bool), events: events}
}

func (e *fakeExecutor) Validate(description string) error {
	if strings.Contains(description, "invalid") {
		return errors.New("no element \"invalid\"")
	}
	return nil
}

func (e *fakeExecutor) Instantiate(description string) (EngineHandle, error) {
	if strings.Contains(description, "broken") {
		return nil, errors.New("could not link x264enc to rtpvp8pay")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	e.instantiated++
	h := &fakeHandle{id: fmt.Sprintf("engine%d", e.seq)}
	e.live[h.id] = true
	return h, nil
}

func (e *fakeExecutor) Teardown(h EngineHandle) error {
	if e.teardownHang != nil {
		<-e.teardownHang
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live[h.ID()] {
		return fmt.Errorf("double teardown of %s", h.ID())
	}
	delete(e.live, h.ID())
	e.tornDown++
	e.events.add("teardown:" + h.ID())
	return e.teardownErr
}

func (e *fakeExecutor) counts() (instantiated, tornDown, live int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instantiated, e.tornDown, len(e.live)
}

type fakeEndpoint struct {
	port uint16
}

func (ep *fakeEndpoint) Addr() string { return fmt.Sprintf(":%d", ep.port) }

type fakeListener struct {
	mu       sync.Mutex
	busy     map[uint16]bool
	listens  int
	detaches int
	active   *fakeEndpoint
	events   *eventLog
}

func newFakeListener(events *eventLog) *fakeListener {
	return &fakeListener{busy: make(map[uint16]bool), events: events}
}

func (l *fakeListener) Listen(port uint16) (Endpoint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy[port] {
		return nil, errors.New("address already in use")
	}
	if l.active != nil {
		return nil, errors.New("already listening")
	}
	l.listens++
	l.active = &fakeEndpoint{port: port}
	return l.active, nil
}

func (l *fakeListener) Detach(ep Endpoint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ep == Endpoint(l.active) {
		l.active = nil
	}
	l.detaches++
	l.events.add("detach")
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(ev string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func newTestRegistry(exec Executor) (*Registry, *InstancePool, *SessionManager) {
	reg := NewRegistry(exec)
	pool := NewInstancePool(exec, reg, testLog, nil)
	return reg, pool, NewSessionManager(reg, pool, testLog, nil)
}

const (
	h264Pipeline = "videotestsrc ! x264enc ! rtph264pay name=pay0"
	vp8Pipeline  = "videotestsrc ! vp8enc ! rtpvp8pay name=pay0"
)
