package alarm

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgevision/aibox/internal/model"
)

func TestPriorityForTable(t *testing.T) {
	assert.Equal(t, 5, PriorityFor("intrusion", 0.6))
	assert.Equal(t, 3, PriorityFor("motion_detected", 0.6))
	assert.Equal(t, 2, PriorityFor("loitering", 0.6))
	assert.Equal(t, 1, PriorityFor("other", 0.6))
}

func TestPriorityConfidenceAdjustmentCapsAndFloors(t *testing.T) {
	assert.Equal(t, 5, PriorityFor("intrusion", 0.95), "already at cap 5")
	assert.Equal(t, 1, PriorityFor("other", 0.3), "already at floor 1")
	assert.Equal(t, 3, PriorityFor("loitering", 0.95), "base 2 +1 for confidence >= 0.9")
}

func TestPriorityLowConfidenceDecrementsBase(t *testing.T) {
	assert.Equal(t, 2, PriorityFor("motion_detected", 0.3), "base 3 -1 for confidence < 0.5")
}

func TestToWireRoundTripsThroughJSON(t *testing.T) {
	p := model.AlarmPayload{
		AlarmID: "a1", EventType: "intrusion", CameraID: "cam1", RuleID: "r1",
		ObjectID: "cam1:7", Confidence: 0.9499, Priority: 5,
		TimestampUTC: time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC),
		Metadata:     "m", BBox: model.BoundingBox{X: 1, Y: 2, Width: 3, Height: 4},
		TestFlag: true,
	}

	wire := ToWire(p)
	data, err := json.Marshal(wire)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "a1", decoded["alarm_id"])
	assert.Equal(t, "2026-01-02T03:04:05.006Z", decoded["timestamp"])
	assert.InDelta(t, 0.95, decoded["confidence"], 0.0001)
	assert.Equal(t, true, decoded["test_mode"])
}
