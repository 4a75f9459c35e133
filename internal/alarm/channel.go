package alarm

import (
	"context"

	"github.com/edgevision/aibox/internal/model"
)

// Channel is one alarm delivery backend (HTTP/WebSocket/MQTT).
type Channel interface {
	Method() model.AlarmMethod
	Send(ctx context.Context, cfg model.AlarmConfig, payload model.AlarmPayload) error
}
