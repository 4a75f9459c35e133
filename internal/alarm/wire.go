// Package alarm implements the AlarmRouter (C12): a priority queue of
// alarms fanned out in parallel to HTTP, WebSocket, and MQTT channels with
// per-channel deadlines.
package alarm

import (
	"time"

	"github.com/edgevision/aibox/internal/model"
)

// WirePayload is the exact JSON shape spec.md §6 mandates for every channel.
type WirePayload struct {
	AlarmID      string     `json:"alarm_id"`
	EventType    string     `json:"event_type"`
	CameraID     string     `json:"camera_id"`
	RuleID       string     `json:"rule_id"`
	ObjectID     string     `json:"object_id"`
	Confidence   float64    `json:"confidence"`
	Priority     int        `json:"priority"`
	Timestamp    string     `json:"timestamp"`
	Metadata     string     `json:"metadata"`
	BoundingBox  WireBBox   `json:"bounding_box"`
	TestMode     bool       `json:"test_mode"`
}

// WireBBox is the on-the-wire bounding box shape.
type WireBBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ToWire converts an AlarmPayload to its JSON wire shape: timestamp as
// millisecond-precision ISO 8601 UTC with a Z suffix, confidence rounded to
// three decimal places.
func ToWire(p model.AlarmPayload) WirePayload {
	return WirePayload{
		AlarmID:    p.AlarmID,
		EventType:  p.EventType,
		CameraID:   p.CameraID,
		RuleID:     p.RuleID,
		ObjectID:   p.ObjectID,
		Confidence: roundTo3(p.Confidence),
		Priority:   p.Priority,
		Timestamp:  p.TimestampUTC.UTC().Format("2006-01-02T15:04:05.000Z"),
		Metadata:   p.Metadata,
		BoundingBox: WireBBox{
			X: p.BBox.X, Y: p.BBox.Y, Width: p.BBox.Width, Height: p.BBox.Height,
		},
		TestMode: p.TestFlag,
	}
}

func roundTo3(f float64) float64 {
	return float64(int64(f*1000+0.5)) / 1000
}

// PriorityFor computes an alarm's priority per spec.md §4.12's table and
// confidence adjustment.
func PriorityFor(eventType string, confidence float64) int {
	base := 1
	switch eventType {
	case "intrusion", "unauthorized_access":
		base = 5
	case "motion_detected", "object_detected":
		base = 3
	case "loitering", "abandoned_object":
		base = 2
	}

	switch {
	case confidence >= 0.9:
		base++
	case confidence < 0.5:
		base--
	}

	if base > 5 {
		base = 5
	}
	if base < 1 {
		base = 1
	}
	return base
}

// DeliveryResult is one channel's outcome for one alarm.
type DeliveryResult struct {
	ConfigID string
	Method   model.AlarmMethod
	Success  bool
	Reason   string // e.g. "timeout", "http_status_502", ""
	Elapsed  time.Duration
}

// RoutingResult aggregates all channel DeliveryResults for one alarm.
type RoutingResult struct {
	AlarmID      string
	PerChannel   []DeliveryResult
	SuccessCount int
	FailCount    int
	TotalElapsed time.Duration
}
