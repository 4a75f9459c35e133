package preview

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/edgevision/aibox/internal/model"
)

func testFrameResult(w, h int) *model.FrameResult {
	return &model.FrameResult{
		Frame: &model.Frame{Pixels: make([]byte, w*h*3), Width: w, Height: h},
	}
}

func TestMJPEGStreamRespondsWithMultipartContentType(t *testing.T) {
	q := NewLatestFrameQueue()
	srv := NewMJPEGServer("cam1", q, 30, 4)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(testFrameResult(4, 4))
	}()

	req := httptest.NewRequest(http.MethodGet, "/stream.mjpg", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 200*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Contains(t, rec.Header().Get("Content-Type"), "multipart/x-mixed-replace")
	assert.Contains(t, rec.Body.String(), "Content-Type: image/jpeg")
}

func TestMJPEGOptionsHandledForCORS(t *testing.T) {
	q := NewLatestFrameQueue()
	srv := NewMJPEGServer("cam1", q, 30, 4)

	req := httptest.NewRequest(http.MethodOptions, "/stream.mjpg", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMJPEGUnknownPathReturns404(t *testing.T) {
	q := NewLatestFrameQueue()
	srv := NewMJPEGServer("cam1", q, 30, 4)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMJPEGRejectsPastMaxClients(t *testing.T) {
	q := NewLatestFrameQueue()
	srv := NewMJPEGServer("cam1", q, 30, 1)
	srv.clients.Store(1)

	req := httptest.NewRequest(http.MethodGet, "/stream.mjpg", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
