package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type stubApps struct {
	app App
	err error
}

func (s stubApps) AppByOrganization(context.Context, string) (App, error) {
	return s.app, s.err
}

func testApp() App {
	return App{
		ID:           1,
		Organization: "acme",
		AppName:      "pbc",
		AgentID:      "4219954506",
		CorpID:       "ding0434",
		AppKey:       "key",
		AppSecret:    "secret",
		IsActive:     true,
	}
}

func newTestDispatcher(apps appSource, baseURL string) *Dispatcher {
	return &Dispatcher{
		apps:    apps,
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: baseURL,
		tokens:  make(map[string]cachedToken),
	}
}

func dingtalkServer(t *testing.T, tokenHits, sendHits *atomic.Int64, lastBody *atomic.Value) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/gettoken", func(w http.ResponseWriter, r *http.Request) {
		n := tokenHits.Add(1)
		fmt.Fprintf(w, `{"errcode":0,"access_token":"tok-%d","expires_in":7200}`, n)
	})
	mux.HandleFunc("/topapi/message/corpconversation/asyncsend_v2", func(w http.ResponseWriter, r *http.Request) {
		sendHits.Add(1)
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode send body: %v", err)
		}
		if lastBody != nil {
			lastBody.Store(body)
		}
		fmt.Fprint(w, `{"errcode":0,"errmsg":"ok","task_id":42}`)
	})
	return httptest.NewServer(mux)
}

func TestAccessTokenCachedAcrossSends(t *testing.T) {
	var tokenHits, sendHits atomic.Int64
	srv := dingtalkServer(t, &tokenHits, &sendHits, nil)
	defer srv.Close()

	d := newTestDispatcher(stubApps{app: testApp()}, srv.URL)
	ctx := context.Background()

	if err := d.NotifyApprove(ctx, "acme", "emp001", "2025 Q3", 3); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := d.NotifyApprove(ctx, "acme", "emp001", "2025 Q3", 3); err != nil {
		t.Fatalf("second send: %v", err)
	}
	if got := tokenHits.Load(); got != 1 {
		t.Fatalf("gettoken hits = %d, want 1", got)
	}
	if got := sendHits.Load(); got != 2 {
		t.Fatalf("asyncsend hits = %d, want 2", got)
	}
}

func TestAccessTokenRefreshedAfterExpiry(t *testing.T) {
	var tokenHits, sendHits atomic.Int64
	srv := dingtalkServer(t, &tokenHits, &sendHits, nil)
	defer srv.Close()

	d := newTestDispatcher(stubApps{app: testApp()}, srv.URL)
	ctx := context.Background()

	if err := d.NotifyApprove(ctx, "acme", "emp001", "2025 Q3", 1); err != nil {
		t.Fatalf("first send: %v", err)
	}

	d.mu.Lock()
	tok := d.tokens["acme"]
	tok.expiry = time.Now().Add(-time.Second)
	d.tokens["acme"] = tok
	d.mu.Unlock()

	if err := d.NotifyApprove(ctx, "acme", "emp001", "2025 Q3", 1); err != nil {
		t.Fatalf("second send: %v", err)
	}
	if got := tokenHits.Load(); got != 2 {
		t.Fatalf("gettoken hits = %d, want 2", got)
	}
}

func TestSendSkippedWithoutRecipient(t *testing.T) {
	var tokenHits, sendHits atomic.Int64
	srv := dingtalkServer(t, &tokenHits, &sendHits, nil)
	defer srv.Close()

	d := newTestDispatcher(stubApps{app: testApp()}, srv.URL)
	if err := d.NotifySubmit(context.Background(), "acme", "  ", "Alice", "2025 Q3", 2); err != nil {
		t.Fatalf("send: %v", err)
	}
	if tokenHits.Load() != 0 || sendHits.Load() != 0 {
		t.Fatalf("expected no api calls, got gettoken=%d asyncsend=%d", tokenHits.Load(), sendHits.Load())
	}
}

func TestSendSkippedWhenAppDisabled(t *testing.T) {
	var tokenHits, sendHits atomic.Int64
	srv := dingtalkServer(t, &tokenHits, &sendHits, nil)
	defer srv.Close()

	app := testApp()
	app.IsActive = false
	d := newTestDispatcher(stubApps{app: app}, srv.URL)
	if err := d.NotifyApprove(context.Background(), "acme", "emp001", "2025 Q3", 1); err != nil {
		t.Fatalf("send: %v", err)
	}
	if tokenHits.Load() != 0 || sendHits.Load() != 0 {
		t.Fatalf("expected no api calls, got gettoken=%d asyncsend=%d", tokenHits.Load(), sendHits.Load())
	}
}

func TestRejectMessageCarriesReason(t *testing.T) {
	var tokenHits, sendHits atomic.Int64
	var lastBody atomic.Value
	srv := dingtalkServer(t, &tokenHits, &sendHits, &lastBody)
	defer srv.Close()

	d := newTestDispatcher(stubApps{app: testApp()}, srv.URL)
	err := d.NotifyReject(context.Background(), "acme", "emp001", "2025 Q3", 3, "weights do not add up")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	body := lastBody.Load().(map[string]any)
	if got := body["userid_list"]; got != "emp001" {
		t.Fatalf("userid_list = %v, want emp001", got)
	}
	msg := body["msg"].(map[string]any)
	content := msg["text"].(map[string]any)["content"].(string)
	for _, want := range []string{"2025 Q3", "weights do not add up", "rejected"} {
		if !strings.Contains(content, want) {
			t.Fatalf("content %q missing %q", content, want)
		}
	}
}

func TestLookupUserIDPagesUntilMatch(t *testing.T) {
	var tokenHits atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/gettoken", func(w http.ResponseWriter, r *http.Request) {
		tokenHits.Add(1)
		fmt.Fprint(w, `{"errcode":0,"access_token":"tok","expires_in":7200}`)
	})
	mux.HandleFunc("/topapi/v2/user/list", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Cursor int64 `json:"cursor"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode list body: %v", err)
		}
		if req.Cursor == 0 {
			fmt.Fprint(w, `{"errcode":0,"result":{"has_more":true,"next_cursor":100,"list":[{"userid":"u1","name":"Bob"}]}}`)
			return
		}
		fmt.Fprint(w, `{"errcode":0,"result":{"has_more":false,"next_cursor":0,"list":[{"userid":"u2","name":"Alice"}]}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := newTestDispatcher(stubApps{app: testApp()}, srv.URL)
	id, err := d.LookupUserID(context.Background(), "acme", "Alice")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if id != "u2" {
		t.Fatalf("id = %q, want u2", id)
	}

	id, err = d.LookupUserID(context.Background(), "acme", "Nobody")
	if err != nil {
		t.Fatalf("lookup missing: %v", err)
	}
	if id != "" {
		t.Fatalf("id = %q, want empty", id)
	}
}
