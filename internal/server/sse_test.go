package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan map[string]any) map[string]any {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBroadcaster_ReplayThenLive(t *testing.T) {
	b := NewBroadcaster()
	b.Send(map[string]any{"event": "run_started"})
	b.Send(map[string]any{"event": "stage_started", "stage": "gate"})

	ch, _, unsub := b.Subscribe()
	defer unsub()

	if ev := recv(t, ch); ev["event"] != "run_started" {
		t.Fatalf("unexpected first replay: %v", ev)
	}
	if ev := recv(t, ch); ev["stage"] != "gate" {
		t.Fatalf("unexpected second replay: %v", ev)
	}

	b.Send(map[string]any{"event": "stage_finished", "stage": "gate"})
	if ev := recv(t, ch); ev["event"] != "stage_finished" {
		t.Fatalf("unexpected live event: %v", ev)
	}
}

func TestBroadcaster_MultipleSubscribers(t *testing.T) {
	b := NewBroadcaster()
	ch1, _, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, _, unsub2 := b.Subscribe()
	defer unsub2()

	b.Send(map[string]any{"event": "edge_selected"})
	for _, ch := range []<-chan map[string]any{ch1, ch2} {
		if ev := recv(t, ch); ev["event"] != "edge_selected" {
			t.Fatalf("unexpected event: %v", ev)
		}
	}
}

func TestBroadcaster_SendCopiesEvent(t *testing.T) {
	b := NewBroadcaster()
	ev := map[string]any{"event": "stage_started"}
	b.Send(ev)
	ev["event"] = "mutated"

	if got := b.History()[0]["event"]; got != "stage_started" {
		t.Fatalf("history shares the caller's map: %v", got)
	}
}

func TestBroadcaster_CloseEndsSubscribers(t *testing.T) {
	b := NewBroadcaster()
	ch, doneCh, unsub := b.Subscribe()
	defer unsub()

	select {
	case <-doneCh:
		t.Fatal("done closed before Close")
	default:
	}

	b.Close()
	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected events channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("done not closed after Close")
	}

	b.Send(map[string]any{"event": "late"})
	if n := len(b.History()); n != 0 {
		t.Fatalf("expected no history after close, got %d", n)
	}
}

func TestBroadcaster_SubscribeAfterClose(t *testing.T) {
	b := NewBroadcaster()
	b.Send(map[string]any{"event": "run_finished"})
	b.Close()

	ch, _, _ := b.Subscribe()
	var events []map[string]any
	for ev := range ch {
		events = append(events, ev)
	}
	if len(events) != 1 || events[0]["event"] != "run_finished" {
		t.Fatalf("expected replay of the finished run, got %v", events)
	}
}

func TestBroadcaster_LongHistoryDoesNotBlock(t *testing.T) {
	b := NewBroadcaster()
	n := clientBuffer + 50
	for i := 0; i < n; i++ {
		b.Send(map[string]any{"n": i})
	}

	done := make(chan int)
	go func() {
		ch, _, unsub := b.Subscribe()
		defer unsub()
		count := 0
		for range ch {
			count++
			if count == n {
				break
			}
		}
		done <- count
	}()

	select {
	case got := <-done:
		if got != n {
			t.Fatalf("replayed %d events, want %d", got, n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe blocked on a long history")
	}
}

func TestBroadcaster_SlowClientDropKeepsDoneOpen(t *testing.T) {
	b := NewBroadcaster()
	ch, doneCh, _ := b.Subscribe()

	for i := 0; i <= clientBuffer; i++ {
		b.Send(map[string]any{"n": i})
	}
	for range ch {
	}

	select {
	case <-doneCh:
		t.Fatal("done closed by a slow-client drop")
	default:
	}
	b.Close()
}

func TestWriteSSE_IDsAndKeepAlive(t *testing.T) {
	prev := keepAliveInterval
	keepAliveInterval = 10 * time.Millisecond
	t.Cleanup(func() { keepAliveInterval = prev })

	b := NewBroadcaster()
	b.Send(map[string]any{"event": "run_started"})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteSSE(w, r, b)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	var sawID, sawKeepAlive, sawDone bool
	closed := false
	for line := range lines {
		switch {
		case line == "id: 1":
			sawID = true
		case strings.HasPrefix(line, ": keep-alive"):
			sawKeepAlive = true
			if !closed {
				closed = true
				b.Close()
			}
		case line == "event: done":
			sawDone = true
		}
	}
	if !sawID || !sawKeepAlive || !sawDone {
		t.Fatalf("id=%t keep-alive=%t done=%t", sawID, sawKeepAlive, sawDone)
	}
}
