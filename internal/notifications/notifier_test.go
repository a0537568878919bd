package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewEpisodesMessage(t *testing.T) {
	message := NewEpisodesMessage("t1", "Mob Psycho", []float64{12, 12.5})
	if message.Title != "New episodes for Mob Psycho" {
		t.Fatalf("unexpected title %q", message.Title)
	}
	if message.Body != "Mob Psycho: episodes 12, 12.5 available" {
		t.Fatalf("unexpected body %q", message.Body)
	}

	single := NewEpisodesMessage("t1", "Mob Psycho", []float64{3})
	if single.Title != "New episode for Mob Psycho" {
		t.Fatalf("unexpected title %q", single.Title)
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var received Message
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(server.URL)
	if err != nil {
		t.Fatalf("new webhook notifier: %v", err)
	}
	if err := notifier.Notify(context.Background(), Message{Title: "hello", Body: "world"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received.Title != "hello" {
		t.Fatalf("webhook got %+v", received)
	}

	if _, err := NewWebhookNotifier("  "); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, Message) error {
	return errors.New("unreachable")
}

func TestMultiNotifierContinuesAfterFailure(t *testing.T) {
	calls := 0
	counter := notifierFunc(func(context.Context, Message) error {
		calls++
		return nil
	})

	multi := NewMultiNotifier(failingNotifier{}, nil, counter)
	if err := multi.Notify(context.Background(), Message{}); err == nil {
		t.Fatalf("expected joined error")
	}
	if calls != 1 {
		t.Fatalf("expected later notifier to run, got %d calls", calls)
	}
}

type notifierFunc func(context.Context, Message) error

func (f notifierFunc) Notify(ctx context.Context, message Message) error {
	return f(ctx, message)
}
