package rtsp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v5"
	"github.com/bluenviron/gortsplib/v5/pkg/base"
	"github.com/bluenviron/gortsplib/v5/pkg/description"

	"rtsp-orchestrator/internal/streaming"
)

// ErrDetached is returned by NewStream when no server is listening.
var ErrDetached = errors.New("rtsp endpoint detached")

const defaultRequestTimeout = 10 * time.Second

// Backend is the session side of the server, normally a *streaming.Controller.
type Backend interface {
	OpenSession(ctx context.Context, path string) (streaming.SessionInfo, error)
	CloseSession(ctx context.Context, id string) error
}

type binding struct {
	info   streaming.SessionInfo
	stream *gortsplib.ServerStream
}

type endpoint struct {
	addr   string
	server *gortsplib.Server
}

func (e *endpoint) Addr() string { return e.addr }

// Transport serves RTSP with gortsplib and turns client requests into
// session opens and closes on a Backend.
//
// A DESCRIBE opens a session and parks it on the connection. The SETUP that
// follows on the same connection adopts it; a SETUP without a parked session
// opens a fresh one. Closing the RTSP session, or the connection while a
// session is still parked, closes the backend session.
type Transport struct {
	log            *slog.Logger
	requestTimeout time.Duration

	mu      sync.Mutex
	backend Backend
	ep      *endpoint
	parked  map[*gortsplib.ServerConn]*binding
	bound   map[*gortsplib.ServerSession]*binding
}

// NewTransport returns a detached transport. Call SetBackend before Listen.
func NewTransport(log *slog.Logger) *Transport {
	return &Transport{
		log:            log,
		requestTimeout: defaultRequestTimeout,
		parked:         make(map[*gortsplib.ServerConn]*binding),
		bound:          make(map[*gortsplib.ServerSession]*binding),
	}
}

// SetBackend sets the backend RTSP requests are forwarded to.
func (t *Transport) SetBackend(b Backend) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.backend = b
}

// Listen starts an RTSP server on port.
func (t *Transport) Listen(port uint16) (streaming.Endpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ep != nil {
		return nil, fmt.Errorf("already listening on %s", t.ep.addr)
	}

	s := &gortsplib.Server{
		Handler:     t,
		RTSPAddress: fmt.Sprintf(":%d", port),
	}
	if err := s.Start(); err != nil {
		return nil, err
	}

	t.ep = &endpoint{addr: s.RTSPAddress, server: s}
	t.log.Info("rtsp server listening", slog.String("addr", s.RTSPAddress))
	return t.ep, nil
}

// Detach closes the server behind ep and drops every client connection.
func (t *Transport) Detach(ep streaming.Endpoint) {
	t.mu.Lock()
	e, ok := ep.(*endpoint)
	if !ok || e != t.ep {
		t.mu.Unlock()
		return
	}
	t.ep = nil
	t.mu.Unlock()

	// Close waits for connection goroutines, which take t.mu in their callbacks.
	e.server.Close()

	t.mu.Lock()
	t.parked = make(map[*gortsplib.ServerConn]*binding)
	t.bound = make(map[*gortsplib.ServerSession]*binding)
	t.mu.Unlock()

	t.log.Info("rtsp server detached", slog.String("addr", e.addr))
}

// NewStream creates a stream served by the current server.
func (t *Transport) NewStream(desc *description.Session) (*gortsplib.ServerStream, error) {
	t.mu.Lock()
	ep := t.ep
	t.mu.Unlock()

	if ep == nil {
		return nil, ErrDetached
	}
	st := &gortsplib.ServerStream{Server: ep.server, Desc: desc}
	if err := st.Initialize(); err != nil {
		return nil, err
	}
	return st, nil
}

// SessionClosed drops the RTSP state of a session closed by the backend and
// disconnects its client. It is safe to call from the controller loop.
func (t *Transport) SessionClosed(info streaming.SessionInfo) {
	var closing *gortsplib.ServerSession

	t.mu.Lock()
	for ss, b := range t.bound {
		if b.info.ID == info.ID {
			delete(t.bound, ss)
			closing = ss
			break
		}
	}
	for sc, b := range t.parked {
		if b.info.ID == info.ID {
			delete(t.parked, sc)
			break
		}
	}
	t.mu.Unlock()

	if closing != nil {
		closing.Close()
	}
}

// OnConnOpen implements gortsplib.ServerHandlerOnConnOpen.
func (t *Transport) OnConnOpen(ctx *gortsplib.ServerHandlerOnConnOpenCtx) {
	t.log.Debug("rtsp connection opened", slog.String("remote_addr", ctx.Conn.NetConn().RemoteAddr().String()))
}

// OnConnClose implements gortsplib.ServerHandlerOnConnClose.
func (t *Transport) OnConnClose(ctx *gortsplib.ServerHandlerOnConnCloseCtx) {
	t.mu.Lock()
	b := t.parked[ctx.Conn]
	delete(t.parked, ctx.Conn)
	t.mu.Unlock()

	if b != nil {
		t.closeSession(b)
	}
	t.log.Debug("rtsp connection closed", slog.Any("reason", ctx.Error))
}

// OnSessionClose implements gortsplib.ServerHandlerOnSessionClose.
func (t *Transport) OnSessionClose(ctx *gortsplib.ServerHandlerOnSessionCloseCtx) {
	t.mu.Lock()
	b := t.bound[ctx.Session]
	delete(t.bound, ctx.Session)
	t.mu.Unlock()

	if b != nil {
		t.closeSession(b)
	}
}

// OnDescribe implements gortsplib.ServerHandlerOnDescribe.
func (t *Transport) OnDescribe(ctx *gortsplib.ServerHandlerOnDescribeCtx) (*base.Response, *gortsplib.ServerStream, error) {
	path, err := streaming.NormalizeMountPath(ctx.Path)
	if err != nil {
		return &base.Response{StatusCode: base.StatusBadRequest}, nil, err
	}

	t.mu.Lock()
	prev := t.parked[ctx.Conn]
	if prev != nil && prev.info.MountPath == path {
		t.mu.Unlock()
		return &base.Response{StatusCode: base.StatusOK}, prev.stream, nil
	}
	delete(t.parked, ctx.Conn)
	t.mu.Unlock()

	if prev != nil {
		t.closeSession(prev)
	}

	b, res, err := t.open(path)
	if err != nil {
		return res, nil, err
	}

	t.mu.Lock()
	t.parked[ctx.Conn] = b
	t.mu.Unlock()
	return res, b.stream, nil
}

// OnSetup implements gortsplib.ServerHandlerOnSetup.
func (t *Transport) OnSetup(ctx *gortsplib.ServerHandlerOnSetupCtx) (*base.Response, *gortsplib.ServerStream, error) {
	path, err := streaming.NormalizeMountPath(ctx.Path)
	if err != nil {
		return &base.Response{StatusCode: base.StatusBadRequest}, nil, err
	}

	t.mu.Lock()
	if b := t.bound[ctx.Session]; b != nil {
		t.mu.Unlock()
		if b.info.MountPath != path {
			return &base.Response{StatusCode: base.StatusBadRequest}, nil,
				fmt.Errorf("session is bound to %s, not %s", b.info.MountPath, path)
		}
		return &base.Response{StatusCode: base.StatusOK}, b.stream, nil
	}
	if b := t.parked[ctx.Conn]; b != nil && b.info.MountPath == path {
		delete(t.parked, ctx.Conn)
		t.bound[ctx.Session] = b
		t.mu.Unlock()
		return &base.Response{StatusCode: base.StatusOK}, b.stream, nil
	}
	t.mu.Unlock()

	b, res, err := t.open(path)
	if err != nil {
		return res, nil, err
	}

	t.mu.Lock()
	t.bound[ctx.Session] = b
	t.mu.Unlock()
	return res, b.stream, nil
}

// OnPlay implements gortsplib.ServerHandlerOnPlay.
func (t *Transport) OnPlay(ctx *gortsplib.ServerHandlerOnPlayCtx) (*base.Response, error) {
	t.log.Debug("rtsp play", slog.String("path", ctx.Path))
	return &base.Response{StatusCode: base.StatusOK}, nil
}

// open asks the backend for a session on path. t.mu must not be held.
func (t *Transport) open(path string) (*binding, *base.Response, error) {
	t.mu.Lock()
	backend := t.backend
	t.mu.Unlock()
	if backend == nil {
		return nil, &base.Response{StatusCode: base.StatusServiceUnavailable}, streaming.ErrNotRunning
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.requestTimeout)
	defer cancel()

	info, err := backend.OpenSession(ctx, path)
	if err != nil {
		code := StatusFor(err)
		t.log.Warn("rtsp session refused",
			slog.String("path", path),
			slog.Int("status", int(code)),
			slog.String("error", err.Error()))
		return nil, &base.Response{StatusCode: code}, err
	}

	b := &binding{info: info}
	if s, ok := info.Engine.(interface {
		Stream() *gortsplib.ServerStream
	}); ok {
		b.stream = s.Stream()
	}
	if b.stream == nil {
		t.closeSession(b)
		return nil, &base.Response{StatusCode: base.StatusInternalServerError},
			fmt.Errorf("pipeline of %s has no stream", path)
	}
	return b, &base.Response{StatusCode: base.StatusOK}, nil
}

// closeSession tells the backend a client went away. t.mu must not be held.
func (t *Transport) closeSession(b *binding) {
	t.mu.Lock()
	backend := t.backend
	t.mu.Unlock()
	if backend == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.requestTimeout)
	defer cancel()

	err := backend.CloseSession(ctx, b.info.ID)
	if err != nil && !errors.Is(err, streaming.ErrNotRunning) {
		t.log.Warn("rtsp session close failed",
			slog.String("session_id", b.info.ID),
			slog.String("error", err.Error()))
	}
}

// StatusFor maps a backend error to the RTSP status sent to the client.
func StatusFor(err error) base.StatusCode {
	switch {
	case err == nil:
		return base.StatusOK
	case errors.Is(err, streaming.ErrMountNotFound):
		return base.StatusNotFound
	case errors.Is(err, streaming.ErrInstantiationFailed),
		errors.Is(err, streaming.ErrNotRunning),
		errors.Is(err, context.DeadlineExceeded):
		return base.StatusServiceUnavailable
	}
	return base.StatusInternalServerError
}
