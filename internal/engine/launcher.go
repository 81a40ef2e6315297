package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bluenviron/gortsplib/v5"
	"github.com/bluenviron/gortsplib/v5/pkg/description"
	"github.com/bluenviron/gortsplib/v5/pkg/format"

	"rtsp-orchestrator/internal/streaming"
)

// ErrNoHost is returned by Instantiate when no stream host is attached.
var ErrNoHost = errors.New("stream host not attached")

// StreamHost realises a session description as a served stream.
type StreamHost interface {
	NewStream(desc *description.Session) (*gortsplib.ServerStream, error)
}

// Handle is a realised pipeline.
type Handle struct {
	id     string
	desc   *description.Session
	stream *gortsplib.ServerStream
}

// ID returns the pipeline name, e.g. "pipeline3".
func (h *Handle) ID() string { return h.id }

// Stream returns the stream clients of this pipeline read from.
func (h *Handle) Stream() *gortsplib.ServerStream { return h.stream }

// Launcher turns launch-line descriptions into streams on a StreamHost.
// It implements streaming.Executor.
type Launcher struct {
	host StreamHost
	log  *slog.Logger

	mu   sync.Mutex
	seq  int
	live map[string]*Handle
}

// NewLauncher returns a launcher that realises pipelines on host.
func NewLauncher(host StreamHost, log *slog.Logger) *Launcher {
	return &Launcher{
		host: host,
		log:  log,
		live: make(map[string]*Handle),
	}
}

// Validate parses and negotiates line without realising it.
func (l *Launcher) Validate(line string) error {
	_, err := compile(line)
	return err
}

// compile parses line and negotiates the formats of every payloader chain.
func compile(line string) (*Graph, error) {
	g, err := Parse(line)
	if err != nil {
		return nil, err
	}
	for _, p := range g.pays {
		if err := negotiate(p.chain); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Instantiate compiles line and creates its stream on the host.
func (l *Launcher) Instantiate(line string) (streaming.EngineHandle, error) {
	g, err := compile(line)
	if err != nil {
		return nil, err
	}

	desc := &description.Session{}
	for _, p := range g.pays {
		desc.Medias = append(desc.Medias, p.describe())
	}

	if l.host == nil {
		return nil, ErrNoHost
	}
	stream, err := l.host.NewStream(desc)
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}

	l.mu.Lock()
	h := &Handle{id: fmt.Sprintf("pipeline%d", l.seq), desc: desc, stream: stream}
	l.seq++
	l.live[h.id] = h
	l.mu.Unlock()

	l.log.Debug("pipeline realised", slog.String("pipeline", h.id), slog.Int("medias", len(desc.Medias)))
	return h, nil
}

// Teardown closes the stream of h. Every handle can be torn down once.
func (l *Launcher) Teardown(eh streaming.EngineHandle) error {
	h, ok := eh.(*Handle)
	if !ok {
		return fmt.Errorf("handle %T was not created by this launcher", eh)
	}

	l.mu.Lock()
	if l.live[h.id] != h {
		l.mu.Unlock()
		return fmt.Errorf("pipeline %s already torn down", h.id)
	}
	delete(l.live, h.id)
	l.mu.Unlock()

	h.stream.Close()
	l.log.Debug("pipeline torn down", slog.String("pipeline", h.id))
	return nil
}

func (p payloader) describe() *description.Media {
	m := &description.Media{Type: description.MediaTypeVideo}
	if p.media == mediaAudio {
		m.Type = description.MediaTypeAudio
	}
	m.Formats = []format.Format{p.format()}
	return m
}

func (p payloader) format() format.Format {
	switch p.codec {
	case codecH265:
		return &format.H265{PayloadTyp: p.pt}
	case codecVP8:
		return &format.VP8{PayloadTyp: p.pt}
	case codecVP9:
		return &format.VP9{PayloadTyp: p.pt}
	case codecMJPEG:
		return &format.MJPEG{}
	case codecPCMU, codecPCMA:
		return &format.G711{
			PayloadTyp:   p.pt,
			MULaw:        p.codec == codecPCMU,
			SampleRate:   8000,
			ChannelCount: 1,
		}
	}
	return &format.H264{PayloadTyp: p.pt, PacketizationMode: 1}
}
