package remote

import "fmt"

// StatusCode is a registration status reported by the remote API, or one of
// the synthetic codes this client produces for auth and parse failures.
type StatusCode int

const (
	StatusProcessFailed       StatusCode = 0
	StatusSuccess             StatusCode = 1
	StatusInProgress          StatusCode = 2
	StatusTryAgainLater       StatusCode = 3
	StatusNotRegister         StatusCode = 4
	StatusPendingVerification StatusCode = 5
	StatusWrongOTP            StatusCode = 6
	StatusBanned              StatusCode = 7
	StatusLimited             StatusCode = 8
	StatusRestricted          StatusCode = 9
	StatusVIP                 StatusCode = 10
	StatusAddAgain            StatusCode = 11
	StatusTempBlocked         StatusCode = 12
	StatusUsed                StatusCode = 13
	StatusProcessing          StatusCode = 14
	StatusCallRequired        StatusCode = 15
	StatusAlreadyExists       StatusCode = 16

	// Synthetic codes
	StatusAuthExpired StatusCode = -1
	StatusAPIError    StatusCode = -2
	StatusNoData      StatusCode = -3

	// StatusUnknown marks a record that carried no registration status.
	StatusUnknown StatusCode = -99
)

var statusLabels = map[StatusCode]string{
	StatusProcessFailed:       "⚠️ Process Failed",
	StatusSuccess:             "🟢 Success",
	StatusInProgress:          "🔵 In Progress",
	StatusTryAgainLater:       "⚠️ Try Again Later",
	StatusNotRegister:         "🚫 Not Register",
	StatusPendingVerification: "🟡 Pending Verification",
	StatusWrongOTP:            "🔴 Wrong OTP",
	StatusBanned:              "🚫 Ban Number",
	StatusLimited:             "🟠 Limited",
	StatusRestricted:          "🔶 Restricted",
	StatusVIP:                 "🟣 VIP Number",
	StatusAddAgain:            "⚠️ Add Again",
	StatusTempBlocked:         "🟤 Temp Blocked",
	StatusUsed:                "Used Number",
	StatusProcessing:          "🌀 Processing",
	StatusCallRequired:        "📞 Call Required",
	StatusAlreadyExists:       "🚫 Already Exists",
	StatusAuthExpired:         "❌ Token Expired",
	StatusAPIError:            "❌ API Error",
	StatusNoData:              "❌ No Data Found",
}

// Label returns the display text for a code. Codes outside the table get a
// generic label.
func (c StatusCode) Label() string {
	if l, ok := statusLabels[c]; ok {
		return l
	}
	if c == StatusUnknown {
		return "🔸 Status ?"
	}
	return fmt.Sprintf("🔸 Status %d", int(c))
}

// Known reports whether the code is in the status table.
func (c StatusCode) Known() bool {
	_, ok := statusLabels[c]
	return ok
}

// Class partitions status codes for the tracking state machine.
type Class int

const (
	// ClassUnknown covers codes outside the table; tracking keeps polling.
	ClassUnknown Class = iota
	ClassInProgress
	ClassSuccess
	ClassTerminal
)

func (c Class) String() string {
	switch c {
	case ClassInProgress:
		return "in_progress"
	case ClassSuccess:
		return "success"
	case ClassTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Classify maps a status code to its class. Every table code other than
// pending and success is terminal, synthetic codes included.
func Classify(c StatusCode) Class {
	switch {
	case c == StatusInProgress:
		return ClassInProgress
	case c == StatusSuccess:
		return ClassSuccess
	case c.Known():
		return ClassTerminal
	default:
		return ClassUnknown
	}
}
