package remote

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		code StatusCode
		want Class
	}{
		{StatusInProgress, ClassInProgress},
		{StatusSuccess, ClassSuccess},
		{StatusProcessFailed, ClassTerminal},
		{StatusWrongOTP, ClassTerminal},
		{StatusProcessing, ClassTerminal},
		{StatusAlreadyExists, ClassTerminal},
		{StatusAuthExpired, ClassTerminal},
		{StatusAPIError, ClassTerminal},
		{StatusNoData, ClassTerminal},
		{StatusCode(42), ClassUnknown},
		{StatusUnknown, ClassUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.code); got != tt.want {
			t.Errorf("Classify(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestLabel(t *testing.T) {
	if got := StatusSuccess.Label(); got != "🟢 Success" {
		t.Errorf("Label(1) = %q", got)
	}
	if got := StatusNoData.Label(); got != "❌ No Data Found" {
		t.Errorf("Label(-3) = %q", got)
	}
	if got := StatusCode(42).Label(); got != "🔸 Status 42" {
		t.Errorf("Label(42) = %q", got)
	}
}
