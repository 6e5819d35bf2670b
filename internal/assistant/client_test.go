package assistant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseReply_StructuredOutput(t *testing.T) {
	raw := "RESPONSE: Great question! 2+2 equals 4. Numbers are like building blocks for math! 🧱\n" +
		"BUTTONS: Tell me more about numbers, Show me a fun math game, What about 3+3?"

	reply := ParseReply(raw)

	if reply.Text != "Great question! 2+2 equals 4. Numbers are like building blocks for math! 🧱" {
		t.Errorf("Unexpected text: %q", reply.Text)
	}

	want := []string{"Tell me more about numbers", "Show me a fun math game", "What about 3+3?"}
	if !reflect.DeepEqual(reply.Buttons, want) {
		t.Errorf("Expected buttons %v, got %v", want, reply.Buttons)
	}
}

func TestParseReply_CaseInsensitiveMarkers(t *testing.T) {
	raw := "response: Dogs say woof! 🐶\nbuttons: More animals, Cat sounds, Bird sounds"

	reply := ParseReply(raw)

	if reply.Text != "Dogs say woof! 🐶" {
		t.Errorf("Unexpected text: %q", reply.Text)
	}
	if len(reply.Buttons) != 3 {
		t.Errorf("Expected 3 buttons, got %v", reply.Buttons)
	}
}

func TestParseReply_UnstructuredFallsBackToRawText(t *testing.T) {
	raw := "The sky is blue because of how sunlight scatters!"

	reply := ParseReply(raw)

	if reply.Text != raw {
		t.Errorf("Expected raw text passthrough, got %q", reply.Text)
	}
	if len(reply.Buttons) != 0 {
		t.Errorf("Expected no buttons, got %v", reply.Buttons)
	}
}

func TestParseReply_MissingButtonsFallsBackToRawText(t *testing.T) {
	raw := "RESPONSE: Here is your answer!"

	reply := ParseReply(raw)

	// Without both markers the whole text is the reply
	if reply.Text != raw {
		t.Errorf("Expected raw text passthrough, got %q", reply.Text)
	}
}

func TestParseReply_CapsButtonsAtThree(t *testing.T) {
	raw := "RESPONSE: So many choices!\nBUTTONS: One, Two, Three, Four, Five"

	reply := ParseReply(raw)

	if len(reply.Buttons) != MaxButtons {
		t.Errorf("Expected %d buttons, got %v", MaxButtons, reply.Buttons)
	}
}

func TestParseReply_DropsEmptyButtons(t *testing.T) {
	raw := "RESPONSE: Pick one!\nBUTTONS: First, , Second,"

	reply := ParseReply(raw)

	want := []string{"First", "Second"}
	if !reflect.DeepEqual(reply.Buttons, want) {
		t.Errorf("Expected buttons %v, got %v", want, reply.Buttons)
	}
}

func TestParseReply_MarkerClaimsOnlyItsLine(t *testing.T) {
	raw := "RESPONSE: Short answer here.\nSome trailing commentary.\nBUTTONS: A, B, C"

	reply := ParseReply(raw)

	if reply.Text != "Short answer here." {
		t.Errorf("Expected only first line, got %q", reply.Text)
	}
}

func upstreamReply(text string) string {
	return `{"candidates":[{"content":{"parts":[{"text":` + jsonString(text) + `}]}}]}`
}

func jsonString(s string) string {
	out := `"`
	for _, r := range s {
		switch r {
		case '"':
			out += `\"`
		case '\n':
			out += `\n`
		default:
			out += string(r)
		}
	}
	return out + `"`
}

func TestClientChat(t *testing.T) {
	var calls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		if r.Header.Get("X-goog-api-key") != "test-key" {
			t.Errorf("Missing API key header")
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(upstreamReply("RESPONSE: Dogs are loyal friends! 🐶\nBUTTONS: More dog facts, Cat facts, Quiz me")))
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL, APIKey: "test-key"}, zerolog.Nop())

	reply, err := client.Chat(context.Background(), "Animals", "animals", "Tell me about dogs")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if reply.Text != "Dogs are loyal friends! 🐶" {
		t.Errorf("Unexpected text: %q", reply.Text)
	}
	if len(reply.Buttons) != 3 {
		t.Errorf("Expected 3 buttons, got %v", reply.Buttons)
	}
}

func TestClientChatCachesIdenticalPrompts(t *testing.T) {
	var calls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(upstreamReply("RESPONSE: Cached!\nBUTTONS: A, B, C")))
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL, APIKey: "test-key"}, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := client.Chat(ctx, "Animals", "animals", "Same question"); err != nil {
			t.Fatalf("Chat failed: %v", err)
		}
	}

	if calls.Load() != 1 {
		t.Errorf("Expected 1 upstream call, got %d", calls.Load())
	}

	// A different message bypasses the cache
	if _, err := client.Chat(ctx, "Animals", "animals", "Different question"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 upstream calls, got %d", calls.Load())
	}
}

func TestClientChatFallbackOnUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL, APIKey: "test-key"}, zerolog.Nop())

	reply, err := client.Chat(context.Background(), "Animals", "animals", "Tell me about dogs")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("Expected ErrUpstream, got %v", err)
	}

	if reply.Text != FallbackReply.Text {
		t.Errorf("Expected fallback text, got %q", reply.Text)
	}
	if !reflect.DeepEqual(reply.Buttons, FallbackReply.Buttons) {
		t.Errorf("Expected fallback buttons, got %v", reply.Buttons)
	}
}

func TestClientChatFallbackOnEmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL, APIKey: "test-key"}, zerolog.Nop())

	_, err := client.Chat(context.Background(), "Animals", "animals", "Hello")
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("Expected ErrUpstream, got %v", err)
	}
}
