// Package inference defines the data-channel payloads produced by the
// backend per processed video frame.
package inference

import (
	"encoding/json"
	"fmt"
)

// Resolution is the pixel size of the processed frame.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ObjectDetection is one detected object (e.g. a handheld phone).
type ObjectDetection struct {
	BBox    []float64 `json:"bbox"`
	Conf    float64   `json:"conf"`
	ClassID int       `json:"class_id"`
}

// Metrics carries the per-frame driver-state signals. Pointer fields are
// absent when the backend could not compute them for the frame (no face).
type Metrics struct {
	Perclos      *float64 `json:"perclos,omitempty"`
	PerclosAlert bool     `json:"perclos_alert,omitempty"`
	EAR          *float64 `json:"ear,omitempty"`
	EARAlert     bool     `json:"ear_alert,omitempty"`

	Yaw            *float64 `json:"yaw,omitempty"`
	Pitch          *float64 `json:"pitch,omitempty"`
	Roll           *float64 `json:"roll,omitempty"`
	YawAlert       bool     `json:"yaw_alert,omitempty"`
	PitchAlert     bool     `json:"pitch_alert,omitempty"`
	RollAlert      bool     `json:"roll_alert,omitempty"`
	YawSustained   bool     `json:"yaw_sustained,omitempty"`
	PitchSustained bool     `json:"pitch_sustained,omitempty"`
	RollSustained  bool     `json:"roll_sustained,omitempty"`
	HeadPoseAlert  bool     `json:"head_pose_alert,omitempty"`

	GazeOnRoad    *bool `json:"gaze_on_road,omitempty"`
	GazeAlert     bool  `json:"gaze_alert,omitempty"`
	GazeSustained bool  `json:"gaze_sustained,omitempty"`

	MAR           *float64 `json:"mar,omitempty"`
	Yawning       bool     `json:"yawning,omitempty"`
	YawnProgress  float64  `json:"yawn_progress,omitempty"`
	YawnCount     int      `json:"yawn_count,omitempty"`
	YawnSustained bool     `json:"yawn_sustained,omitempty"`

	PhoneUsage          bool `json:"phone_usage,omitempty"`
	PhoneUsageSustained bool `json:"phone_usage_sustained,omitempty"`
}

// Update is one data-channel inference message.
type Update struct {
	Timestamp        string            `json:"timestamp"`
	Resolution       *Resolution       `json:"resolution,omitempty"`
	FaceLandmarks    []float64         `json:"face_landmarks,omitempty"`
	ObjectDetections []ObjectDetection `json:"object_detections,omitempty"`
	Metrics          *Metrics          `json:"metrics,omitempty"`
}

// ParseUpdate decodes a data-channel message into an inference update.
// Messages carrying a "type" tag are control traffic, not inference payloads.
func ParseUpdate(raw []byte) (Update, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Update{}, fmt.Errorf("decode inference payload: %w", err)
	}
	if probe.Type != "" {
		return Update{}, fmt.Errorf("message type %q is not an inference payload", probe.Type)
	}
	var upd Update
	if err := json.Unmarshal(raw, &upd); err != nil {
		return Update{}, fmt.Errorf("decode inference payload: %w", err)
	}
	return upd, nil
}

// HasMetrics reports whether the update carries a computed metrics object.
func (u Update) HasMetrics() bool {
	return u.Metrics != nil
}
