package control

import (
	"encoding/json"
	"testing"
)

func TestCommandWireShape(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{name: "pause", cmd: Pause(), want: `{"type":"monitoring-control","action":"pause"}`},
		{name: "resume", cmd: Resume(), want: `{"type":"monitoring-control","action":"resume"}`},
		{name: "recalibrate", cmd: Recalibrate(), want: `{"type":"head_pose_recalibrate"}`},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.cmd.Validate(); err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
			raw, err := json.Marshal(tc.cmd)
			if err != nil {
				t.Fatalf("unexpected marshal error: %v", err)
			}
			if string(raw) != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, raw)
			}
		})
	}
}

func TestCommandValidateRejectsBadCommands(t *testing.T) {
	t.Parallel()

	if err := (Command{Type: TypeMonitoringControl, Action: "halt"}).Validate(); err == nil {
		t.Fatalf("expected unknown action rejected")
	}
	if err := (Command{Type: TypeHeadPoseRecalibrate, Action: ActionPause}).Validate(); err == nil {
		t.Fatalf("expected stray action rejected")
	}
	if err := (Command{Type: "reboot"}).Validate(); err == nil {
		t.Fatalf("expected unknown type rejected")
	}
}
