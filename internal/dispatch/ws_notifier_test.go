package dispatch

import (
	"testing"

	"github.com/gorilla/websocket"
)

func TestRemoveDriverClearsSession(t *testing.T) {
	r := NewWSRegistry()
	conn := new(websocket.Conn)
	r.AddDriver("d1", conn)
	r.RemoveDriver("d1", conn)
	if _, ok := r.drivers["d1"]; ok {
		t.Fatal("session must be gone after removal")
	}
}

func TestRemoveDriverKeepsReconnectedSession(t *testing.T) {
	r := NewWSRegistry()
	old, cur := new(websocket.Conn), new(websocket.Conn)
	r.AddDriver("d1", old)
	r.AddDriver("d1", cur)

	// Teardown of the replaced connection must not evict the live one.
	r.RemoveDriver("d1", old)
	s, ok := r.drivers["d1"]
	if !ok || s.conn != cur {
		t.Fatal("reconnected session must survive the old connection's teardown")
	}
	r.RemoveDriver("d1", cur)
	if _, ok := r.drivers["d1"]; ok {
		t.Fatal("live session must be removable by its own connection")
	}
}

func TestRemoveTrackerDropsOnlyThatConnection(t *testing.T) {
	r := NewWSRegistry()
	a, b := new(websocket.Conn), new(websocket.Conn)
	r.AddTracker("o1", a)
	r.AddTracker("o1", b)

	r.RemoveTracker("o1", a)
	if got := len(r.trackers["o1"]); got != 1 {
		t.Fatalf("want 1 tracker left, got %d", got)
	}
	if r.trackers["o1"][0].conn != b {
		t.Fatal("wrong tracker removed")
	}

	r.RemoveTracker("o1", b)
	if _, ok := r.trackers["o1"]; ok {
		t.Fatal("empty tracker list must be deleted")
	}
}
