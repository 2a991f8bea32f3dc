package judge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"trancheflow/pkg/circuitbreaker"
	"trancheflow/pkg/config"
)

type mapCache struct {
	mu sync.Mutex
	m  map[string]Verdict
}

func (c *mapCache) Get(ctx context.Context, key string) (Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *mapCache) Set(ctx context.Context, key string, v Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = v
}

func chatServer(t *testing.T, content string, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 1 || len(req.Messages[0].Content) != 2 {
			t.Errorf("unexpected request shape: %+v", req)
		}
		if img := req.Messages[0].Content[1].ImageURL; img == nil || !strings.HasPrefix(img.URL, "data:") {
			t.Errorf("image must be sent as data URL")
		}
		resp := map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(url string, cache Cache) *Client {
	return NewClient(config.JudgeConfig{URL: url, APIKey: "sk-test", Timeout: 2 * time.Second}, cache, zap.NewNop())
}

func TestClient_BackendVerdictIsCached(t *testing.T) {
	var calls int32
	srv := chatServer(t, "```json\n{\"verified\": true, \"note\": \"concrete visible\"}\n```", &calls)
	defer srv.Close()

	cache := &mapCache{m: map[string]Verdict{}}
	c := newTestClient(srv.URL, cache)

	img := ImageInput{Data: "aGVsbG8="}
	v := c.Judge(context.Background(), "foundation poured", img)
	if !v.Verified || v.Note != "concrete visible" {
		t.Fatalf("Judge() = %+v", v)
	}
	v2 := c.Judge(context.Background(), "foundation poured", img)
	if v2 != v {
		t.Fatalf("cached verdict differs: %+v", v2)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("backend called %d times, want 1", calls)
	}
}

func TestClient_NoImage(t *testing.T) {
	var calls int32
	srv := chatServer(t, `{"verified": true}`, &calls)
	defer srv.Close()

	v := newTestClient(srv.URL, nil).Judge(context.Background(), "foundation poured", ImageInput{})
	if v.Verified || v.Note == "" {
		t.Fatalf("Judge(no image) = %+v", v)
	}
	if calls != 0 {
		t.Fatalf("backend must not be called without an image")
	}
}

func TestClient_FetchesImageURL(t *testing.T) {
	img := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer img.Close()

	var calls int32
	srv := chatServer(t, `{"verified": false, "note": "no rebar"}`, &calls)
	defer srv.Close()
	c := newTestClient(srv.URL, nil)

	v := c.Judge(context.Background(), "rebar placed", ImageInput{URL: img.URL + "/site.png"})
	if v.Verified || v.Note != "no rebar" {
		t.Fatalf("Judge(url) = %+v", v)
	}

	v = c.Judge(context.Background(), "rebar placed", ImageInput{URL: img.URL + "/missing.jpg"})
	if v.Verified || !strings.HasPrefix(v.Note, "Could not fetch image from URL") {
		t.Fatalf("Judge(missing url) = %+v", v)
	}
}

func TestClient_DegradesOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	for i := 0; i < 5; i++ {
		v := c.Judge(context.Background(), "roof on", ImageInput{Data: "aGVsbG8="})
		if !v.Verified || !strings.HasPrefix(v.Note, degradedPrefix) {
			t.Fatalf("attempt %d: Judge() = %+v", i, v)
		}
	}
	if !strings.Contains(c.Judge(context.Background(), "roof on", ImageInput{Data: "eA=="}).Note, "circuit open") {
		t.Fatalf("expected circuit to be open after repeated failures")
	}
}

func TestClient_UnparsableReplyIsNotVerified(t *testing.T) {
	var calls int32
	srv := chatServer(t, "I cannot tell, sorry.", &calls)
	defer srv.Close()

	cache := &mapCache{m: map[string]Verdict{}}
	c := newTestClient(srv.URL, cache)
	v := c.Judge(context.Background(), "roof on", ImageInput{Data: "aGVsbG8="})
	if v.Verified {
		t.Fatalf("unparsable reply must not verify: %+v", v)
	}
	if v.Note != "AI response could not be parsed: I cannot tell, sorry." {
		t.Fatalf("note = %q", v.Note)
	}
	if len(cache.m) != 0 {
		t.Fatalf("unparsable reply should not be cached")
	}
	// 答复不可解析不计入熔断失败
	if state := c.cb.GetState(); state != circuitbreaker.StateClosed {
		t.Fatalf("breaker state = %s, want closed", state)
	}
}

func TestUnparsableVerdictTruncates(t *testing.T) {
	v := unparsableVerdict(strings.Repeat("x", 150))
	if want := "AI response could not be parsed: " + strings.Repeat("x", 100); v.Note != want || v.Verified {
		t.Fatalf("unparsableVerdict() = %+v", v)
	}
}

func TestStub(t *testing.T) {
	j := New(config.JudgeConfig{}, nil, zap.NewNop())
	if _, ok := j.(Stub); !ok {
		t.Fatalf("expected Stub without api key, got %T", j)
	}

	v := j.Judge(context.Background(), "foundation poured", ImageInput{})
	if v.Verified || !strings.HasPrefix(v.Note, demoPrefix) {
		t.Fatalf("Stub(no image) = %+v", v)
	}
	v = j.Judge(context.Background(), "foundation poured", ImageInput{URL: "https://x/1.jpg"})
	if !v.Verified || !strings.Contains(v.Note, "foundation poured") {
		t.Fatalf("Stub(image) = %+v", v)
	}
}

func TestParseVerdict(t *testing.T) {
	cases := []struct {
		in      string
		want    Verdict
		wantErr bool
	}{
		{in: `{"verified": true, "note": "ok"}`, want: Verdict{true, "ok"}},
		{in: "```json\n{\"verified\": false}\n```", want: Verdict{false, "AI verification completed"}},
		{in: `{"note": "missing flag"}`, wantErr: true},
		{in: `not json`, wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseVerdict(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseVerdict(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("parseVerdict(%q) = %+v, %v", tc.in, got, err)
		}
	}
}

func TestCacheKey(t *testing.T) {
	if CacheKey("a", "b") == CacheKey("ab", "") {
		t.Fatalf("cache key must separate description and image")
	}
	if !strings.HasPrefix(CacheKey("a", "b"), "judge:verdict:") {
		t.Fatalf("unexpected prefix")
	}
}
