package openai_provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(url string) *client {
	return NewClient(Config{
		APIKey:         "test-key",
		Model:          "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		BaseURL:        url,
	})
}

func TestGenerateAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("expected system + user messages, got %+v", req.Messages)
		}
		if !strings.Contains(req.Messages[1].Content, "QUESTION: what is the policy?") {
			t.Errorf("question missing from prompt: %s", req.Messages[1].Content)
		}
		if !strings.Contains(req.Messages[1].Content, "[1] first passage") {
			t.Errorf("context missing from prompt: %s", req.Messages[1].Content)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"25 days of leave."}}]}`)
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).GenerateAnswer(context.Background(), "what is the policy?", []string{"first passage"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "25 days of leave." {
		t.Fatalf("unexpected answer: %q", got)
	}
}

func TestGenerateAnswerAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GenerateAnswer(context.Background(), "q", nil)
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestStreamAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if !req.Stream {
			t.Errorf("stream flag not set")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"The answer \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"is 42.\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	stream, err := newTestClient(srv.URL).StreamAnswer(context.Background(), "q", []string{"ctx"})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Close()

	var b strings.Builder
	for {
		fragment, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		b.WriteString(fragment)
	}
	if b.String() != "The answer is 42." {
		t.Fatalf("unexpected streamed answer: %q", b.String())
	}
}

func TestCreateEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":[{"embedding":[0.1,0.2],"index":0},{"embedding":[0.3,0.4],"index":1}]}`)
	}))
	defer srv.Close()

	vecs, err := newTestClient(srv.URL).CreateEmbedding(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 || vecs[1][0] != 0.3 {
		t.Fatalf("unexpected embeddings: %v", vecs)
	}
}

func TestCreateEmbeddingEmptyInput(t *testing.T) {
	vecs, err := newTestClient("http://unused").CreateEmbedding(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("empty input should short-circuit, got %v %v", vecs, err)
	}
}
