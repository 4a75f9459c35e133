// Package behavior implements the BehaviorAnalyzer (C7): a hot-replaceable
// ROI/rule engine emitting behavior events against per-camera detections and
// tracks.
package behavior

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/edgevision/aibox/internal/model"
	"github.com/edgevision/aibox/internal/obslog"
)

// ROI is a region of interest with a display priority and optional
// time-of-day window.
type ROI struct {
	ID       string          `json:"id"`
	CameraID string          `json:"camera_id"`
	Polygon  []model.BoundingBox `json:"polygon"` // simplified to a box union, not a true polygon
	Priority int             `json:"priority"` // 1..5, drives display color, not cost
	WindowStart *string      `json:"window_start,omitempty"` // "HH:MM", optional
	WindowEnd   *string      `json:"window_end,omitempty"`
}

// Rule evaluates detections within an ROI and, when it fires, describes the
// BehaviorEvent to synthesize.
type Rule struct {
	ID             string        `json:"id"`
	Type           string        `json:"type"` // e.g. "intrusion", "loitering"
	ROIID          string        `json:"roi_id"`
	MinConfidence  float64       `json:"min_confidence"`
	CooldownSeconds int          `json:"cooldown_seconds"`
}

// RuleSet is the hot-replaceable unit the analyzer evaluates against.
type RuleSet struct {
	Rules []Rule `json:"rules"`
	ROIs  []ROI  `json:"rois"`
}

type cooldownKey struct {
	globalID uint64
	ruleID   string
}

// Analyzer evaluates active rules against incoming frames. Its rule set can
// be swapped at any time via SetRules, taking effect on the next Evaluate
// call — callers do not need to pause the pipeline.
type Analyzer struct {
	mu        sync.RWMutex
	rules     RuleSet
	cooldowns map[cooldownKey]time.Time
	log       *obslog.Logger
}

// New returns an Analyzer with an empty rule set.
func New() *Analyzer {
	return &Analyzer{
		cooldowns: make(map[cooldownKey]time.Time),
		log:       obslog.New("behavior"),
	}
}

// SetRules atomically replaces the active rule set. Safe to call from the
// config hot-reload watcher while Evaluate runs concurrently on the pipeline
// goroutine.
func (a *Analyzer) SetRules(rs RuleSet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rules = rs
}

// LoadRulesJSON decodes a JSON-encoded RuleSet (the raw rule-file bytes that
// internal/config's rule-file watcher reads and forwards) and installs it.
func (a *Analyzer) LoadRulesJSON(raw []byte) error {
	var rs RuleSet
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &rs); err != nil {
		return err
	}
	a.SetRules(rs)
	return nil
}

// Evaluate runs the active rule set against one frame's detections and
// assigned local/global track ids, returning any BehaviorEvents that fired.
// A rule fires at most once per (globalId, ruleId, cooldownWindow).
func (a *Analyzer) Evaluate(cameraID string, now time.Time, detections []model.Detection, localIDs, globalIDs []uint64) ([]model.BehaviorEvent, []string) {
	a.mu.RLock()
	rs := a.rules
	a.mu.RUnlock()

	var events []model.BehaviorEvent
	activeROIs := make(map[string]bool)

	roiByID := make(map[string]ROI, len(rs.ROIs))
	for _, roi := range rs.ROIs {
		if roi.CameraID == cameraID {
			roiByID[roi.ID] = roi
		}
	}

	for _, rule := range rs.Rules {
		roi, ok := roiByID[rule.ROIID]
		if !ok {
			continue
		}
		if !withinWindow(roi, now) {
			continue
		}

		for i, det := range detections {
			if det.Confidence < rule.MinConfidence {
				continue
			}
			if !boxInAnyROI(det.BBox, roi) {
				continue
			}
			activeROIs[roi.ID] = true

			var globalID uint64
			if i < len(globalIDs) {
				globalID = globalIDs[i]
			}
			key := cooldownKey{globalID: globalID, ruleID: rule.ID}
			if last, fired := a.cooldowns[key]; fired && now.Sub(last) < time.Duration(rule.CooldownSeconds)*time.Second {
				continue
			}
			a.cooldowns[key] = now

			var localID uint64
			if i < len(localIDs) {
				localID = localIDs[i]
			}

			events = append(events, model.BehaviorEvent{
				Type:         rule.Type,
				RuleID:       rule.ID,
				ObjectRef:    model.CameraLocalKey{CameraID: cameraID, LocalID: localID},
				Confidence:   det.Confidence,
				TimestampUTC: now,
				BBox:         det.BBox,
			})
		}
	}

	roiList := make([]string, 0, len(activeROIs))
	for id := range activeROIs {
		roiList = append(roiList, id)
	}
	return events, roiList
}

func boxInAnyROI(b model.BoundingBox, roi ROI) bool {
	for _, region := range roi.Polygon {
		if b.IoU(region) > 0 {
			return true
		}
	}
	return len(roi.Polygon) == 0 // an ROI with no geometry covers the whole frame
}

func withinWindow(roi ROI, now time.Time) bool {
	if roi.WindowStart == nil || roi.WindowEnd == nil {
		return true
	}
	cur := now.Format("15:04")
	if *roi.WindowStart <= *roi.WindowEnd {
		return cur >= *roi.WindowStart && cur <= *roi.WindowEnd
	}
	// window spans midnight
	return cur >= *roi.WindowStart || cur <= *roi.WindowEnd
}
