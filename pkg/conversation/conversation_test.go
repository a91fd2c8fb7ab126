package conversation

import (
	"slices"
	"testing"
)

func TestWindow_EvictsOldest(t *testing.T) {
	t.Parallel()
	w := NewWindow(3)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		w.Add(s)
	}
	if got, want := w.Items(), []string{"c", "d", "e"}; !slices.Equal(got, want) {
		t.Errorf("Items = %v; want %v", got, want)
	}
	w.Reset()
	if len(w.Items()) != 0 {
		t.Error("Reset did not empty the window")
	}
}

func TestWindow_DefaultSize(t *testing.T) {
	t.Parallel()
	w := NewWindow(0)
	for range DefaultWindowSize + 2 {
		w.Add("x")
	}
	if got := len(w.Items()); got != DefaultWindowSize {
		t.Errorf("len = %d; want %d", got, DefaultWindowSize)
	}
}

func TestLog_UpdateByIdentity(t *testing.T) {
	t.Parallel()
	var l Log
	first := NewMessage(RoleUser, Placeholder)
	second := NewMessage(RoleAssistant, "hello")
	l.Append(first)
	l.Append(second)

	if !l.Update(first.ID, "hi there") {
		t.Fatal("Update returned false for existing id")
	}
	if l.Update("missing", "x") {
		t.Error("Update returned true for unknown id")
	}
	msgs := l.Messages()
	if msgs[0].Text != "hi there" || msgs[1].Text != "hello" {
		t.Errorf("messages = %+v", msgs)
	}

	// Messages returns a copy.
	msgs[0].Text = "mutated"
	if got, _ := l.Get(first.ID); got.Text != "hi there" {
		t.Error("Messages did not return a copy")
	}
}

func TestMessage_Replayable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{"speech", NewMessage(RoleUser, "hi"), true},
		{"placeholder", NewMessage(RoleUser, Placeholder), false},
		{"tool", NewToolMessage("c1", "Capturing photo…"), false},
		{"empty", NewMessage(RoleAssistant, ""), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.msg.Replayable(); got != tc.want {
				t.Errorf("Replayable = %v; want %v", got, tc.want)
			}
		})
	}
}
