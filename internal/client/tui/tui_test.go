package tui

import (
	"strings"
	"testing"
	"time"

	"wsotp/internal/events"
)

func taskEvent(t events.EventType, id, status string, checks int) events.Event {
	return events.Event{
		Type:      t,
		Timestamp: time.Now(),
		Data: events.TaskData{
			TaskID: id, Phone: "47879817", CC: "229", Account: "alpha",
			State: "in_progress", Status: status, Checks: checks,
		},
	}
}

func TestHandleEvent_TaskLifecycle(t *testing.T) {
	m := NewModel(nil)

	m = m.handleEvent(taskEvent(events.EventTaskStarted, "t1", "Processing", 0))
	m = m.handleEvent(taskEvent(events.EventTaskTransition, "t1", "In Progress", 3))
	row, ok := m.tasks["t1"]
	if !ok {
		t.Fatal("task not tracked")
	}
	if row.Phone != "+229 47879817" || row.Status != "In Progress" || row.Checks != 3 {
		t.Errorf("row = %+v", row)
	}

	m = m.handleEvent(taskEvent(events.EventTaskFinished, "t1", "Success", 4))
	if len(m.tasks) != 0 {
		t.Errorf("finished task still live")
	}
	if len(m.finished) != 1 || m.finished[0].Status != "Success" {
		t.Errorf("finished = %+v", m.finished)
	}
}

func TestHandleEvent_FinishedCapped(t *testing.T) {
	m := NewModel(nil)
	for i := 0; i < 15; i++ {
		m = m.handleEvent(taskEvent(events.EventTaskFinished, "t", "Failed", i))
	}
	if len(m.finished) != m.maxFinished {
		t.Errorf("finished = %d, want %d", len(m.finished), m.maxFinished)
	}
	if m.finished[0].Checks != 14 {
		t.Errorf("newest first: got checks %d", m.finished[0].Checks)
	}
}

func TestHandleEvent_ConnectionAndCleanup(t *testing.T) {
	m := NewModel(nil)
	m = m.handleEvent(events.Event{Type: events.EventConnected, Data: events.ConnectedData{ServerAddr: "bot:4443", Latency: 12 * time.Millisecond}})
	if m.status != "online" || m.serverAddr != "bot:4443" {
		t.Errorf("status=%q addr=%q", m.status, m.serverAddr)
	}

	m = m.handleEvent(taskEvent(events.EventTaskStarted, "t1", "Processing", 0))
	m = m.handleEvent(events.Event{Type: events.EventDisconnected})
	if m.status != "offline" || len(m.tasks) != 0 {
		t.Errorf("disconnect should clear live tasks")
	}

	m = m.handleEvent(events.Event{Type: events.EventCleanupDone, Data: events.CleanupData{Deleted: 2, Failed: 1}})
	m = m.handleEvent(events.Event{Type: events.EventCleanupDone, Data: events.CleanupData{Deleted: 1}})
	if m.cleanups != 2 || m.deleted != 3 || m.failed != 1 {
		t.Errorf("cleanups=%d deleted=%d failed=%d", m.cleanups, m.deleted, m.failed)
	}
}

func TestView_RendersPoolAndTasks(t *testing.T) {
	m := NewModel(nil)
	m = m.handleEvent(events.Event{Type: events.EventPoolChanged, Data: events.PoolData{Account: "alpha", Usage: 2, Capacity: 5}})
	m = m.handleEvent(taskEvent(events.EventTaskStarted, "t1", "Processing", 0))

	out := m.View()
	for _, want := range []string{"wsotp", "alpha", "2/5", "+229 47879817", "Tracking (1)"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m05s"},
		{2*time.Hour + 7*time.Minute, "2h07m"},
	}
	for _, tt := range tests {
		if got := formatElapsed(tt.in); got != tt.want {
			t.Errorf("formatElapsed(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
