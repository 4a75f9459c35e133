package preview

import (
	"github.com/edgevision/aibox/internal/model"
)

// Mode selects between the two PreviewStreamer output modes.
type Mode string

const (
	ModeMJPEG Mode = "mjpeg"
	ModeRTMP  Mode = "rtmp"
)

// Streamer is the per-camera PreviewStreamer instance a VideoPipeline fans
// processed frames into. Exactly one of MJPEG/RTMP is active per camera.
type Streamer struct {
	CameraID string
	Mode     Mode

	queue *LatestFrameQueue
	mjpeg *MJPEGServer
	rtmp  *RTMPStreamer
}

// NewMJPEGStreamer wires an MJPEG-mode Streamer fed through its own
// LatestFrameQueue. It listens on no port itself; the caller serves
// MJPEG().Router() on the camera's preview port.
func NewMJPEGStreamer(cameraID string, fps float64, maxClients int) *Streamer {
	q := NewLatestFrameQueue()
	return &Streamer{
		CameraID: cameraID,
		Mode:     ModeMJPEG,
		queue:    q,
		mjpeg:    NewMJPEGServer(cameraID, q, fps, maxClients),
	}
}

// NewRTMPStreamerMode wires an RTMP-mode Streamer targeting targetURL.
func NewRTMPStreamerMode(cameraID, targetURL string, fps float64) *Streamer {
	return &Streamer{
		CameraID: cameraID,
		Mode:     ModeRTMP,
		rtmp:     NewRTMPStreamer(cameraID, targetURL, fps),
	}
}

// PushFrame fans one processed frame into whichever mode is active.
func (s *Streamer) PushFrame(fr *model.FrameResult) {
	switch s.Mode {
	case ModeMJPEG:
		s.queue.Push(fr)
	case ModeRTMP:
		if fr.Frame != nil {
			s.rtmp.PushFrame(fr.Frame)
		}
	}
}

// MJPEG returns the underlying MJPEG server, or nil in RTMP mode.
func (s *Streamer) MJPEG() *MJPEGServer { return s.mjpeg }

// RTMP returns the underlying RTMP streamer, or nil in MJPEG mode.
func (s *Streamer) RTMP() *RTMPStreamer { return s.rtmp }
