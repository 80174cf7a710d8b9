package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kenwu020902/MT5-SDS/internal/model"
)

func TestOrderAlert(t *testing.T) {
	o := model.OrderInfo{
		Ticket: 42,
		Symbol: "EURUSD",
		Type:   model.OrderBuyLimit,
		Volume: 0.10,
		Price:  1.08500,
	}

	a := OrderAlert(o, "APPROVED", "BULLISH")
	if a.Level != AlertInfo {
		t.Errorf("approved level = %s, want INFO", a.Level)
	}
	if !strings.Contains(a.Title, "EURUSD") || !strings.Contains(a.Title, "#42") {
		t.Errorf("title missing order identity: %q", a.Title)
	}
	if !strings.Contains(a.Message, "1.08500") {
		t.Errorf("message missing price: %q", a.Message)
	}

	if got := OrderAlert(o, "EXPIRED", "NEUTRAL").Level; got != AlertWarning {
		t.Errorf("expired level = %s, want WARNING", got)
	}
	if got := OrderAlert(o, "CANCELLED", "BEARISH").Level; got != AlertWarning {
		t.Errorf("cancelled level = %s, want WARNING", got)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	cases := map[string]string{
		"plain":            "plain",
		"a_b*c":            `a\_b\*c`,
		"1.08 (limit)":     `1\.08 \(limit\)`,
		"buy #42 +0.5%":    `buy \#42 \+0\.5%`,
		"[link](x) done!":  `\[link\]\(x\) done\!`,
	}
	for in, want := range cases {
		if got := escapeMarkdown(in); got != want {
			t.Errorf("escapeMarkdown(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWebhookNotifier_Send(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.Send(context.Background(), Alert{Level: AlertWarning, Title: "t", Message: "m"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["level"] != "WARNING" || got["title"] != "t" || got["message"] != "m" {
		t.Errorf("unexpected payload: %v", got)
	}
	if _, ok := got["ts"]; !ok {
		t.Error("payload missing ts")
	}
}

func TestWebhookNotifier_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	if err := n.Send(context.Background(), Alert{Title: "t"}); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestTelegramNotifier_Send(t *testing.T) {
	var path string
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("tok123", "chat456")
	n.apiBase = srv.URL
	err := n.Send(context.Background(), Alert{Level: AlertCritical, Title: "down", Message: "bridge lost"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if path != "/bottok123/sendMessage" {
		t.Errorf("path = %s", path)
	}
	if body["chat_id"] != "chat456" {
		t.Errorf("chat_id = %v", body["chat_id"])
	}
	if body["parse_mode"] != "MarkdownV2" {
		t.Errorf("parse_mode = %v", body["parse_mode"])
	}
	text, _ := body["text"].(string)
	if !strings.Contains(text, "🚨") || !strings.Contains(text, "down") {
		t.Errorf("text = %q", text)
	}
}

func TestMulti_ContinuesPastFailure(t *testing.T) {
	var delivered int
	fail := notifierFunc(func(ctx context.Context, a Alert) error {
		return fmt.Errorf("boom")
	})
	ok := notifierFunc(func(ctx context.Context, a Alert) error {
		delivered++
		return nil
	})

	m := NewMulti(fail, ok)
	err := m.Send(context.Background(), Alert{Title: "t"})
	if err == nil {
		t.Fatal("expected first error to surface")
	}
	if delivered != 1 {
		t.Errorf("second backend delivered %d times, want 1", delivered)
	}
}

type notifierFunc func(ctx context.Context, a Alert) error

func (f notifierFunc) Send(ctx context.Context, a Alert) error { return f(ctx, a) }
