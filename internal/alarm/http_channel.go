package alarm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/edgevision/aibox/internal/model"
)

// HTTPChannel POSTs the wire JSON body to the URL in an AlarmConfig's
// MethodSpecificConfig["url"], honoring an optional per-config
// "timeout_ms" override and "header_"-prefixed extra headers.
type HTTPChannel struct {
	client *http.Client
}

// NewHTTPChannel returns an HTTPChannel with a default client.
func NewHTTPChannel() *HTTPChannel {
	return &HTTPChannel{client: &http.Client{}}
}

func (c *HTTPChannel) Method() model.AlarmMethod { return model.AlarmMethodHTTP }

func (c *HTTPChannel) Send(ctx context.Context, cfg model.AlarmConfig, payload model.AlarmPayload) error {
	url := cfg.MethodSpecificConfig["url"]
	if url == "" {
		return fmt.Errorf("http channel %s: missing url", cfg.ID)
	}

	body, err := json.Marshal(ToWire(payload))
	if err != nil {
		return err
	}

	if ms, ok := cfg.MethodSpecificConfig["timeout_ms"]; ok {
		if n, err := strconv.Atoi(ms); err == nil && n > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(n)*time.Millisecond)
			defer cancel()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "aibox/1.0")
	for k, v := range cfg.MethodSpecificConfig {
		if strings.HasPrefix(k, "header_") {
			req.Header.Set(strings.TrimPrefix(k, "header_"), v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http_status_%d", resp.StatusCode)
	}
	return nil
}
