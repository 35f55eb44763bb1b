package tracker

import (
	"testing"

	"wsotp/internal/remote"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		lastCode remote.StatusCode
		checks   int
		code     remote.StatusCode
		want     step
	}{
		{
			name:   "pending",
			checks: 1,
			code:   remote.StatusInProgress,
			want:   step{next: StateInProgress, label: "🔵 In Progress", register: true, again: true},
		},
		{
			name:   "success",
			checks: 3,
			code:   remote.StatusSuccess,
			want:   step{next: StateSuccess, label: "🟢 Success", success: true, release: true},
		},
		{
			name:   "already exists",
			checks: 1,
			code:   remote.StatusAlreadyExists,
			want:   step{next: StateFailed, label: "🚫 Already Exists", release: true, cleanup: true},
		},
		{
			name:   "no data",
			checks: 1,
			code:   remote.StatusNoData,
			want:   step{next: StateFailed, label: "❌ No Data Found", release: true, cleanup: true},
		},
		{
			name:   "unknown code keeps processing",
			checks: 5,
			code:   remote.StatusCode(42),
			want:   step{next: StateProcessing, label: "🔸 Status 42", again: true},
		},
		{
			name:   "pending at ceiling",
			checks: 100,
			code:   remote.StatusInProgress,
			want:   step{next: StateTimedOut, label: LabelTryLater, release: true, cleanup: true},
		},
		{
			name:     "unknown at ceiling after success",
			lastCode: remote.StatusSuccess,
			checks:   100,
			code:     remote.StatusUnknown,
			want:     step{next: StateTimedOut, label: LabelTryLater, release: true},
		},
		{
			name:   "terminal wins at ceiling",
			checks: 100,
			code:   remote.StatusWrongOTP,
			want:   step{next: StateFailed, label: "🔴 Wrong OTP", release: true, cleanup: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decide(tt.lastCode, tt.checks, 100, remote.StatusResult{Code: tt.code})
			if got != tt.want {
				t.Errorf("decide = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStateFinal(t *testing.T) {
	for _, s := range []State{StateSuccess, StateFailed, StateTimedOut, StateCancelled} {
		if !s.Final() {
			t.Errorf("%s should be final", s)
		}
	}
	for _, s := range []State{StateSubmitting, StateProcessing, StateInProgress} {
		if s.Final() {
			t.Errorf("%s should not be final", s)
		}
	}
}
