package transcript

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeHistory returns canned newest-first messages and records the query.
type fakeHistory struct {
	msgs []Message
	err  error

	channelID string
	beforeID  string
	limit     int
}

func (f *fakeHistory) MessagesBefore(_ context.Context, channelID, beforeID string, limit int) ([]Message, error) {
	f.channelID = channelID
	f.beforeID = beforeID
	f.limit = limit
	return f.msgs, f.err
}

func TestAssemble(t *testing.T) {
	t.Run("reverses newest-first history", func(t *testing.T) {
		h := &fakeHistory{msgs: []Message{
			{AuthorName: "Carol", Content: "third"},
			{AuthorName: "Bob", Content: "second"},
			{AuthorName: "Alice", Content: "first"},
		}}
		a := NewAssembler(h)

		got, err := a.Assemble(context.Background(), "chan1", "msg9", 100)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := "Alice: first\nBob: second\nCarol: third"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
		if h.channelID != "chan1" || h.beforeID != "msg9" || h.limit != 100 {
			t.Errorf("query not forwarded: %q %q %d", h.channelID, h.beforeID, h.limit)
		}
	})

	t.Run("excludes bot authors", func(t *testing.T) {
		h := &fakeHistory{msgs: []Message{
			{AuthorName: "Bob", Content: "human"},
			{AuthorName: "Auditor", Content: "beep", Bot: true},
			{AuthorName: "Alice", Content: "also human"},
		}}
		a := NewAssembler(h)

		got, err := a.Assemble(context.Background(), "c", "m", 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Contains(got, "beep") {
			t.Errorf("bot message leaked into transcript: %q", got)
		}
		if got != "Alice: also human\nBob: human" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("propagates history errors", func(t *testing.T) {
		h := &fakeHistory{err: errors.New("rate limited")}
		a := NewAssembler(h)

		_, err := a.Assemble(context.Background(), "c", "m", 10)
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("empty history renders empty transcript", func(t *testing.T) {
		a := NewAssembler(&fakeHistory{})
		got, err := a.Assemble(context.Background(), "c", "m", 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "" {
			t.Errorf("got %q, want empty", got)
		}
	})
}

func TestRender(t *testing.T) {
	got := Render([]Message{
		{AuthorName: "A", Content: "x"},
		{AuthorName: "B", Content: "multi\nline"},
	})
	if got != "A: x\nB: multi\nline" {
		t.Errorf("got %q", got)
	}
}
