package server

import (
	"context"
	"database/sql"
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/docqa-ai/docqa/config"
	"github.com/docqa-ai/docqa/internal/queue/streams"
	"github.com/docqa-ai/docqa/internal/store"
)

func newDocumentsHandler(t *testing.T) (*DocumentsHandler, sqlmock.Sqlmock, *redis.Client) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	h := &DocumentsHandler{
		Store:     store.NewWithDB(db),
		Publisher: streams.NewPublisher(client),
		Ingest:    config.IngestConfig{Stream: "document.ingest"},
		Metrics:   NewMetrics(prometheus.NewRegistry()),
	}
	return h, mock, client
}

func TestDocumentsCreateEnqueuesIngest(t *testing.T) {
	h, mock, client := newDocumentsHandler(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO documents")).
		WithArgs("VPN Guide", "https://wiki.internal/vpn", "", store.StatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("doc-1"))

	rec := doJSON(t, h.create, http.MethodPost, "/api/documents",
		`{"title":"VPN Guide","source":"https://wiki.internal/vpn"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"id":"doc-1"`) ||
		!strings.Contains(rec.Body.String(), `"status":"pending"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}

	entries, err := client.XRange(context.Background(), "document.ingest", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one queued entry, got %d", len(entries))
	}
	raw, _ := entries[0].Values["envelope"].(string)
	if !strings.Contains(raw, "doc-1") {
		t.Fatalf("envelope missing document id: %s", raw)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDocumentsCreateValidation(t *testing.T) {
	h, _, _ := newDocumentsHandler(t)

	rec := doJSON(t, h.create, http.MethodPost, "/api/documents",
		`{"source":"https://example.com"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing title: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, h.create, http.MethodPost, "/api/documents",
		`{"title":"Untethered"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing source and content: expected 400, got %d", rec.Code)
	}
}

func TestDocumentsGetNotFound(t *testing.T) {
	h, mock, _ := newDocumentsHandler(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, source, status, error, created_at, updated_at FROM documents WHERE id=$1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	rec := doJSON(t, h.get, http.MethodGet, "/api/documents/missing", "", map[string]string{"id": "missing"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDocumentsList(t *testing.T) {
	h, mock, _ := newDocumentsHandler(t)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, source, status, error, created_at, updated_at")).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "source", "status", "error", "created_at", "updated_at"}).
			AddRow("doc-1", "VPN Guide", "https://wiki.internal/vpn", store.StatusReady, "", now, now))

	rec := doJSON(t, h.list, http.MethodGet, "/api/documents", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "VPN Guide") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDocumentsListEmptyIsList(t *testing.T) {
	h, mock, _ := newDocumentsHandler(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, source, status, error, created_at, updated_at")).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "source", "status", "error", "created_at", "updated_at"}))

	rec := doJSON(t, h.list, http.MethodGet, "/api/documents", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %s", rec.Body.String())
	}
}
