package preview

import (
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/edgevision/aibox/internal/model"
	"github.com/edgevision/aibox/internal/obslog"
)

// StreamHealth mirrors the RTMP mode's Healthy/Unhealthy state machine from
// spec.md §4.9.
type StreamHealth string

const (
	HealthHealthy   StreamHealth = "healthy"
	HealthUnhealthy StreamHealth = "unhealthy"
)

// rtmpFrameEncoder abstracts the H.264-encode-then-FLV-mux write path. No
// RTMP/FLV muxer library appeared anywhere in the retrieved pack, so this is
// a stand-in writer over a raw TCP connection to the target URL's host:port,
// matching internal/decoder's precedent of substituting a deterministic
// stand-in where a real codec library is unavailable.
type rtmpFrameEncoder struct {
	conn net.Conn
	pts  time.Duration
}

func dialRTMPTarget(targetURL string) (*rtmpFrameEncoder, error) {
	addr := targetURL
	if u, err := url.Parse(targetURL); err == nil && u.Host != "" {
		addr = u.Host
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &rtmpFrameEncoder{conn: conn}, nil
}

func (e *rtmpFrameEncoder) writeFrame(frame *model.Frame, frameInterval time.Duration) error {
	header := fmt.Sprintf("FRM pts=%d len=%d\n", e.pts.Microseconds(), len(frame.Pixels))
	if _, err := e.conn.Write([]byte(header)); err != nil {
		return err
	}
	if _, err := e.conn.Write(frame.Pixels); err != nil {
		return err
	}
	e.pts += frameInterval
	return nil
}

func (e *rtmpFrameEncoder) Close() error { return e.conn.Close() }

// RTMPStreamer pushes processed frames to a target RTMP endpoint, tracking
// health per spec.md §4.9: an unrecoverable write error transitions to
// Unhealthy and stops; resuming requires an explicit Restart.
type RTMPStreamer struct {
	cameraID      string
	targetURL     string
	frameInterval time.Duration
	log           *obslog.Logger

	mu      sync.Mutex
	encoder *rtmpFrameEncoder
	health  StreamHealth
}

// NewRTMPStreamer returns a streamer targeting targetURL at fps.
func NewRTMPStreamer(cameraID, targetURL string, fps float64) *RTMPStreamer {
	interval := time.Second
	if fps > 0 {
		interval = time.Duration(float64(time.Second) / fps)
	}
	return &RTMPStreamer{
		cameraID:      cameraID,
		targetURL:     targetURL,
		frameInterval: interval,
		log:           obslog.New("preview"),
		health:        HealthHealthy,
	}
}

// Start dials the target and marks the streamer ready to accept frames.
func (s *RTMPStreamer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc, err := dialRTMPTarget(s.targetURL)
	if err != nil {
		s.health = HealthUnhealthy
		return err
	}
	s.encoder = enc
	s.health = HealthHealthy
	return nil
}

// PushFrame feeds one processed frame into the encoder. A no-op once the
// streamer is Unhealthy.
func (s *RTMPStreamer) PushFrame(frame *model.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.health != HealthHealthy || s.encoder == nil {
		return
	}
	if err := s.encoder.writeFrame(frame, s.frameInterval); err != nil {
		s.log.Errorf("camera %s: rtmp write failed, marking unhealthy: %v", s.cameraID, err)
		s.health = HealthUnhealthy
		_ = s.encoder.Close()
		s.encoder = nil
	}
}

// Health returns the current stream health.
func (s *RTMPStreamer) Health() StreamHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

// Restart re-dials the target, required to leave Unhealthy.
func (s *RTMPStreamer) Restart() error {
	s.mu.Lock()
	if s.encoder != nil {
		_ = s.encoder.Close()
		s.encoder = nil
	}
	s.mu.Unlock()
	return s.Start()
}

// Stop closes the connection without flagging Unhealthy.
func (s *RTMPStreamer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.encoder != nil {
		_ = s.encoder.Close()
		s.encoder = nil
	}
}
