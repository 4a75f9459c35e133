package preview

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edgevision/aibox/internal/model"
	"github.com/edgevision/aibox/internal/obslog"
)

const mjpegBoundary = "mjpegboundary"

// MJPEGServer serves one camera's latest frame as a multipart/x-mixed-replace
// stream, bounded by MaxClients.
type MJPEGServer struct {
	cameraID   string
	queue      *LatestFrameQueue
	fps        float64
	maxClients int
	clients    atomic.Int32
	log        *obslog.Logger
	overlayOn  atomic.Bool

	overlayDemand *OverlayDemand
}

// NewMJPEGServer returns a server reading frames from queue, pacing output
// to fps. maxClients bounds concurrent viewers.
func NewMJPEGServer(cameraID string, queue *LatestFrameQueue, fps float64, maxClients int) *MJPEGServer {
	return &MJPEGServer{
		cameraID:   cameraID,
		queue:      queue,
		fps:        fps,
		maxClients: maxClients,
		log:        obslog.New("preview"),
	}
}

// SetOverlayEnabled toggles whether frames are rendered with the full
// overlay before encoding.
func (s *MJPEGServer) SetOverlayEnabled(enabled bool) { s.overlayOn.Store(enabled) }

// SetOverlayDemand wires a shared OverlayDemand ref-counter that gets
// incremented/decremented as viewers connect and disconnect. Overlay
// rendering turns on while at least one viewer is watching and off again
// once the last one leaves.
func (s *MJPEGServer) SetOverlayDemand(d *OverlayDemand) { s.overlayDemand = d }

// Router returns a chi.Router exposing GET/OPTIONS /stream.mjpg; every other
// path falls through to 404, using a CORS-then-dispatch
// handler shape.
func (s *MJPEGServer) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/stream.mjpg", s.handleStream)
	r.Options("/stream.mjpg", s.handleOptions)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	return r
}

func (s *MJPEGServer) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}

func (s *MJPEGServer) handleStream(w http.ResponseWriter, r *http.Request) {
	if int(s.clients.Load()) >= s.maxClients {
		http.Error(w, "too many viewers", http.StatusServiceUnavailable)
		return
	}
	s.clients.Add(1)
	defer s.clients.Add(-1)

	if s.overlayDemand != nil {
		if err := s.overlayDemand.Increment(r.Context(), s.cameraID); err != nil {
			s.log.Warnf("camera %s: overlay demand increment failed: %v", s.cameraID, err)
		}
		s.overlayOn.Store(true)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.overlayDemand.Decrement(ctx, s.cameraID); err != nil {
				s.log.Warnf("camera %s: overlay demand decrement failed: %v", s.cameraID, err)
			}
			if s.clients.Load() <= 1 {
				s.overlayOn.Store(false)
			}
		}()
	}

	id, ch := s.queue.Subscribe()
	defer s.queue.Unsubscribe(id)

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=--%s", mjpegBoundary))
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	minInterval := time.Millisecond
	if s.fps > 0 {
		minInterval = time.Duration(float64(time.Second) / s.fps)
	}
	var lastSent time.Time
	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case fr, ok := <-ch:
			if !ok || fr == nil || fr.Frame == nil {
				continue
			}
			if since := time.Since(lastSent); since < minInterval {
				time.Sleep(minInterval - since)
			}
			lastSent = time.Now()

			jpegBytes, err := encodeJPEG(fr, s.overlayOn.Load())
			if err != nil {
				s.log.Warnf("camera %s: jpeg encode failed: %v", s.cameraID, err)
				continue
			}
			if err := writeMJPEGPart(w, jpegBytes); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func writeMJPEGPart(w http.ResponseWriter, jpegBytes []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(jpegBytes)); err != nil {
		return err
	}
	if _, err := w.Write(jpegBytes); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

func encodeJPEG(fr *model.FrameResult, overlayOn bool) ([]byte, error) {
	pixels := fr.Frame.Pixels
	if overlayOn {
		pixels = RenderFullOverlay(Input{
			Frame:          fr.Frame,
			Detections:     fr.Detections,
			LocalTrackIDs:  fr.LocalTrackIDs,
			GlobalTrackIDs: fr.GlobalTrackIDs,
			FaceLabels:     fr.FaceLabels,
			PlateLabels:    fr.PlateLabels,
			AlarmActive:    len(fr.BehaviorEvents) > 0,
		})
	}

	img := rgbToRGBAImage(pixels, fr.Frame.Width, fr.Frame.Height)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
