// Package control defines outbound data-channel commands sent by the client.
package control

import "fmt"

// CommandType tags the control command union.
type CommandType string

const (
	TypeMonitoringControl   CommandType = "monitoring-control"
	TypeHeadPoseRecalibrate CommandType = "head_pose_recalibrate"
)

// Action selects the monitoring-control verb.
type Action string

const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
)

// Command is one outbound control message.
type Command struct {
	Type   CommandType `json:"type"`
	Action Action      `json:"action,omitempty"`
}

// Pause asks the backend to stop consuming media without tearing down.
func Pause() Command {
	return Command{Type: TypeMonitoringControl, Action: ActionPause}
}

// Resume asks the backend to continue a paused session.
func Resume() Command {
	return Command{Type: TypeMonitoringControl, Action: ActionResume}
}

// Recalibrate asks the backend to re-zero the head-pose baseline.
func Recalibrate() Command {
	return Command{Type: TypeHeadPoseRecalibrate}
}

// Validate enforces command invariants.
func (c Command) Validate() error {
	switch c.Type {
	case TypeMonitoringControl:
		if c.Action != ActionPause && c.Action != ActionResume {
			return fmt.Errorf("monitoring-control requires pause or resume action, got %q", c.Action)
		}
	case TypeHeadPoseRecalibrate:
		if c.Action != "" {
			return fmt.Errorf("head_pose_recalibrate takes no action, got %q", c.Action)
		}
	default:
		return fmt.Errorf("unsupported command type %q", c.Type)
	}
	return nil
}
