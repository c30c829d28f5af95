package serper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDiscoverParsesOrganicAndAnswerBox(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-KEY"); got != "key" {
			t.Errorf("missing api key header, got %q", got)
		}
		fmt.Fprint(w, `{
			"answerBox": {"answer": "It is 42."},
			"organic": [
				{"title": "First", "link": "https://a.example", "snippet": "snippet one"},
				{"title": "Second", "link": "https://b.example", "snippet": "snippet two"}
			]
		}`)
	}))
	defer srv.Close()

	resp, err := Search{ApiKey: "key", BaseURL: srv.URL}.Discover(context.Background(), "meaning of life", 3)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if resp.Direct != "It is 42." {
		t.Fatalf("expected direct answer, got %q", resp.Direct)
	}
	if len(resp.Results) != 2 || resp.Results[0].Title != "First" || resp.Results[1].Snippet != "snippet two" {
		t.Fatalf("unexpected results: %+v", resp.Results)
	}
}

func TestDiscoverAnswerBoxSnippetFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"answerBox": {"snippet": "from the box"}, "organic": []}`)
	}))
	defer srv.Close()

	resp, err := Search{ApiKey: "key", BaseURL: srv.URL}.Discover(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if resp.Direct != "from the box" {
		t.Fatalf("expected snippet fallback, got %q", resp.Direct)
	}
}

func TestDiscoverCapsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"organic": [
			{"title": "1", "snippet": "a"},
			{"title": "2", "snippet": "b"},
			{"title": "3", "snippet": "c"}
		]}`)
	}))
	defer srv.Close()

	resp, err := Search{ApiKey: "key", BaseURL: srv.URL}.Discover(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected capped results, got %d", len(resp.Results))
	}
}

func TestDiscoverStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := Search{ApiKey: "key", BaseURL: srv.URL}.Discover(context.Background(), "q", 2)
	if err == nil {
		t.Fatalf("expected error on non-200 status")
	}
}
