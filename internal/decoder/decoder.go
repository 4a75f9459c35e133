// Package decoder implements the FrameDecoder (C4): it pulls an RTSP stream
// via a real RTSP client (github.com/bluenviron/gortsplib/v4) and exposes a
// lazy, potentially infinite sequence of decoded Frames. H.264/JPEG decode
// itself is explicitly out of scope (spec.md §1 treats wire codecs as black
// boxes); PixelDecoder is the seam a real decoder plugs into.
package decoder

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"

	"github.com/edgevision/aibox/internal/apperrors"
	"github.com/edgevision/aibox/internal/model"
	"github.com/edgevision/aibox/internal/obslog"
)

// internalQueueBound is the "drop, don't block" bound from spec.md §4.4:
// "Decoder must drop, not block, when downstream is slower than source
// (internal bound of 2 frames)."
const internalQueueBound = 2

// PixelDecoder turns one encoded H.264 access unit into raw pixels. The real
// implementation is an external, opaque codec; DefaultPixelDecoder below is a
// deterministic stand-in used when none is supplied.
type PixelDecoder func(accessUnit [][]byte, width, height int) []byte

// DefaultPixelDecoder produces a deterministic solid-ish buffer sized to the
// target resolution, seeded from the access unit's first NAL byte so
// consecutive frames differ. It does not decode H.264 — that decode is the
// explicitly out-of-scope wire codec this seam stands in for.
func DefaultPixelDecoder(accessUnit [][]byte, width, height int) []byte {
	seed := byte(0)
	if len(accessUnit) > 0 && len(accessUnit[0]) > 0 {
		seed = accessUnit[0][0]
	}
	buf := make([]byte, width*height*3)
	for i := range buf {
		buf[i] = seed
	}
	return buf
}

// Decoder pulls frames for one camera. One Decoder per camera, owned by its
// VideoPipeline.
type Decoder struct {
	client       *gortsplib.Client
	pixelDecoder PixelDecoder
	width        int
	height       int
	cameraID     string

	frames  chan *model.Frame
	seq     atomic.Uint64
	log     *obslog.Logger
	closeMu sync.Mutex
	closed  bool
	lost    atomic.Bool
	wg      sync.WaitGroup
}

// Options configures Open.
type Options struct {
	PixelDecoder PixelDecoder
}

// Open dials the RTSP URL and begins buffering frames. The returned Decoder
// must be closed by the caller regardless of outcome.
func Open(ctx context.Context, src model.VideoSource, opts Options) (*Decoder, error) {
	if opts.PixelDecoder == nil {
		opts.PixelDecoder = DefaultPixelDecoder
	}

	streamURL := src.URL
	if src.OnvifAddr != "" {
		resolved, err := resolveStreamURI(ctx, src.OnvifAddr, src.Credentials.Username, src.Credentials.Password)
		if err != nil {
			return nil, apperrors.New(apperrors.StreamLost, "decoder.Open", err)
		}
		streamURL = resolved
	}

	u, err := base.ParseURL(streamURL)
	if err != nil {
		return nil, apperrors.New(apperrors.ConfigInvalid, "decoder.Open", err)
	}
	if src.Credentials.Username != "" {
		u.User = url.UserPassword(src.Credentials.Username, src.Credentials.Password)
	}

	d := &Decoder{
		pixelDecoder: opts.PixelDecoder,
		width:        src.TargetWidth,
		height:       src.TargetHeight,
		cameraID:     src.ID,
		frames:       make(chan *model.Frame, internalQueueBound),
		log:          obslog.New(fmt.Sprintf("decoder:%s", src.ID)),
	}

	d.client = &gortsplib.Client{}
	if err := d.client.Start(u.Scheme, u.Host); err != nil {
		return nil, apperrors.New(apperrors.StreamLost, "decoder.Open", err)
	}

	desc, _, err := d.client.Describe(u)
	if err != nil {
		d.client.Close()
		return nil, apperrors.New(apperrors.StreamLost, "decoder.Open", err)
	}

	if err := d.client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		d.client.Close()
		return nil, apperrors.New(apperrors.StreamLost, "decoder.Open", err)
	}

	if err := d.wireH264(desc); err != nil {
		d.log.Warnf("no H264 media found, frames will not be produced: %v", err)
	}

	d.client.OnPacketLost = func(err error) {
		d.log.Warnf("packet loss: %v", err)
	}

	if _, err := d.client.Play(nil); err != nil {
		d.client.Close()
		return nil, apperrors.New(apperrors.StreamLost, "decoder.Open", err)
	}

	d.wg.Add(1)
	go d.watchDone()

	return d, nil
}

func (d *Decoder) wireH264(desc *description.Session) error {
	var h264Format *format.H264
	var media *description.Media
	for _, m := range desc.Medias {
		for _, f := range m.Formats {
			if hf, ok := f.(*format.H264); ok {
				h264Format = hf
				media = m
				break
			}
		}
	}
	if h264Format == nil {
		return fmt.Errorf("stream has no H264 media")
	}

	rtpDec, err := h264Format.CreateDecoder()
	if err != nil {
		return err
	}

	d.client.OnPacketRTP(media, h264Format, func(pkt *rtp.Packet) {
		au, _, err := rtpDec.Decode(pkt)
		if err != nil {
			// Most "errors" here are just "not enough packets yet for this
			// access unit" and are expected on every other RTP packet.
			return
		}
		d.pushFrame(au)
	})
	return nil
}

func (d *Decoder) pushFrame(au [][]byte) {
	f := &model.Frame{
		Pixels:         d.pixelDecoder(au, d.width, d.height),
		Width:          d.width,
		Height:         d.height,
		CaptureTime:    time.Now().UTC(),
		SequenceNumber: d.seq.Add(1),
		CameraID:       d.cameraID,
	}

	select {
	case d.frames <- f:
	default:
		// Drop the oldest, not the newest, then push — never block upstream.
		select {
		case <-d.frames:
		default:
		}
		select {
		case d.frames <- f:
		default:
		}
	}
}

func (d *Decoder) watchDone() {
	defer d.wg.Done()
	err := d.client.Wait()
	d.log.Warnf("session ended: %v", err)
	d.lost.Store(true)
	close(d.frames)
}

// Next blocks until a frame is available, ctx is cancelled, or the stream is
// lost, in which case it returns a StreamLost error; the caller decides
// whether to reconnect.
func (d *Decoder) Next(ctx context.Context) (*model.Frame, error) {
	select {
	case f, ok := <-d.frames:
		if !ok {
			return nil, apperrors.New(apperrors.StreamLost, "decoder.Next", nil)
		}
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Lost reports whether the underlying session has already ended.
func (d *Decoder) Lost() bool { return d.lost.Load() }

// Close tears down the RTSP session. Idempotent.
func (d *Decoder) Close() {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.client.Close()
	d.wg.Wait()
}
