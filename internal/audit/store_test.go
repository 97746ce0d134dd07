package audit

import (
	"testing"
	"time"
)

func TestStorePutOverwrites(t *testing.T) {
	s := NewStore(time.Hour)
	key := Key{ChannelID: "c1", UserID: "u1"}

	s.Put(key, &Session{State: StateAwaitingConfirmation, Transcript: "first"})
	s.Put(key, &Session{State: StateAwaitingManualTranscript, Transcript: "second"})

	if got := s.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
	sess, ok := s.Get(key)
	if !ok {
		t.Fatal("Get() reported absent after Put")
	}
	if sess.Transcript != "second" || sess.State != StateAwaitingManualTranscript {
		t.Errorf("Get() = %+v, want the second Put to win", sess)
	}
}

func TestStoreKeysAreIndependent(t *testing.T) {
	s := NewStore(time.Hour)
	s.Put(Key{ChannelID: "c1", UserID: "u1"}, &Session{Transcript: "a"})
	s.Put(Key{ChannelID: "c1", UserID: "u2"}, &Session{Transcript: "b"})
	s.Put(Key{ChannelID: "c2", UserID: "u1"}, &Session{Transcript: "c"})

	if got := s.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	sess, ok := s.Get(Key{ChannelID: "c1", UserID: "u2"})
	if !ok || sess.Transcript != "b" {
		t.Errorf("Get(c1/u2) = %+v, %v", sess, ok)
	}
}

func TestStoreIdleExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewStore(time.Minute)
	s.now = func() time.Time { return now }

	key := Key{ChannelID: "c1", UserID: "u1"}
	s.Put(key, &Session{Transcript: "t"})

	now = now.Add(59 * time.Second)
	if _, ok := s.Get(key); !ok {
		t.Fatal("session expired before TTL elapsed")
	}

	// The Get above refreshed activity; another full TTL must elapse.
	now = now.Add(61 * time.Second)
	if _, ok := s.Get(key); !ok {
		t.Fatal("session expired despite activity refresh")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := s.Get(key); ok {
		t.Fatal("session survived past TTL")
	}
	if got := s.Len(); got != 0 {
		t.Errorf("Len() = %d after expiry, want 0", got)
	}
}

func TestStoreZeroTTLNeverExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewStore(0)
	s.now = func() time.Time { return now }

	key := Key{ChannelID: "c1", UserID: "u1"}
	s.Put(key, &Session{})

	now = now.Add(1000 * time.Hour)
	if _, ok := s.Get(key); !ok {
		t.Fatal("session expired with TTL disabled")
	}
}

func TestStoreDelete(t *testing.T) {
	s := NewStore(time.Hour)
	key := Key{ChannelID: "c1", UserID: "u1"}
	s.Put(key, &Session{})

	if !s.Delete(key) {
		t.Error("Delete() = false for present session")
	}
	if s.Delete(key) {
		t.Error("Delete() = true for absent session")
	}
	if _, ok := s.Get(key); ok {
		t.Error("Get() found session after Delete")
	}
}
