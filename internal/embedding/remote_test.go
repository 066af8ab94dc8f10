package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newEmbeddingServer(t *testing.T, status int, embedding []float64, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "test-model",
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": embedding},
			},
			"usage": map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteEmbedder_Success(t *testing.T) {
	var calls int32
	srv := newEmbeddingServer(t, http.StatusOK, []float64{3, 4}, &calls)
	fallback := NewTFIDF()
	e := NewRemoteEmbedder(RemoteConfig{BaseURL: srv.URL + "/", APIKey: "test", Model: "test-model", CacheSize: 10}, fallback)

	vec := e.Embed(context.Background(), "hello remote world")
	if len(vec) != 2 || math.Abs(vec[0]-0.6) > eps || math.Abs(vec[1]-0.8) > eps {
		t.Fatalf("vec = %v, want normalized [0.6 0.8]", vec)
	}
	if fallback.DocCount() != 0 {
		t.Error("fallback must not be used on success")
	}

	// Second call is served from cache.
	_ = e.EmbedQuery(context.Background(), "hello remote world")
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
	if e.Name() != "remote:test-model" {
		t.Errorf("Name = %q", e.Name())
	}
}

func TestRemoteEmbedder_FallbackOnServerError(t *testing.T) {
	var calls int32
	srv := newEmbeddingServer(t, http.StatusInternalServerError, nil, &calls)
	fallback := NewTFIDF()
	e := NewRemoteEmbedder(RemoteConfig{BaseURL: srv.URL + "/", APIKey: "test"}, fallback)

	vec := e.Embed(context.Background(), "alpha beta gamma")
	if fallback.DocCount() != 1 {
		t.Errorf("fallback DocCount = %d, want 1", fallback.DocCount())
	}
	if len(vec) != 3 {
		t.Errorf("fallback vector len = %d, want 3", len(vec))
	}

	before := fallback.DocCount()
	_ = e.EmbedQuery(context.Background(), "alpha")
	if fallback.DocCount() != before {
		t.Error("query fallback must not mutate the model")
	}
}

func TestRemoteEmbedder_NoAPIKeyNeverCalls(t *testing.T) {
	var calls int32
	srv := newEmbeddingServer(t, http.StatusOK, []float64{1}, &calls)
	fallback := NewTFIDF()
	e := NewRemoteEmbedder(RemoteConfig{BaseURL: srv.URL + "/"}, fallback)

	_ = e.Embed(context.Background(), "local only text")
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("server should not be called without an api key")
	}
	if fallback.DocCount() != 1 {
		t.Errorf("fallback DocCount = %d", fallback.DocCount())
	}
}

func TestRemoteEmbedder_TruncatesInput(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		got = body.Input
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"m","data":[{"object":"embedding","index":0,"embedding":[1,0]}],"usage":{"prompt_tokens":1,"total_tokens":1}}`))
	}))
	defer srv.Close()

	e := NewRemoteEmbedder(RemoteConfig{BaseURL: srv.URL + "/", APIKey: "k", MaxInputChars: 5}, NewTFIDF())
	_ = e.Embed(context.Background(), "abcdefghij")
	if got != "abcde" {
		t.Errorf("input = %q, want %q", got, "abcde")
	}
}

func TestRemoteEmbedder_NilLoggerFallsBack(t *testing.T) {
	fallback := NewTFIDF()
	e := NewRemoteEmbedder(RemoteConfig{}, fallback, WithLogger(nil))
	_ = e.Embed(context.Background(), "no key so the fallback logs a warning")
	if fallback.DocCount() != 1 {
		t.Errorf("fallback DocCount = %d", fallback.DocCount())
	}
}
