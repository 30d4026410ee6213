package notify

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/curtbushko/zoom-watchman/internal/config"
)

func TestSubjects(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusSuccess, "✅ Upload Success: Acme x Widgets"},
		{StatusFail, "❌ Upload Failed: Acme x Widgets"},
		{StatusRetry, "⚠️ Upload Issue: Retrying Acme x Widgets"},
	}
	for _, tt := range tests {
		got := Message{Status: tt.status, Topic: "Acme x Widgets"}.Subject()
		if got != tt.want {
			t.Errorf("Subject(%s) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestBodies(t *testing.T) {
	success := Message{Status: StatusSuccess, Topic: "T", Brand: "Widgets", Details: "Member: https://app.box.com/folder/1"}.Body(20 * time.Minute)
	if !strings.HasPrefix(success, "Video: T\nBrand: Widgets\n") || !strings.Contains(success, "https://app.box.com/folder/1") {
		t.Errorf("Unexpected success body %q", success)
	}

	fail := Message{Status: StatusFail, Topic: "T", Brand: "Gadgets", Details: "Brand not found in ClickUp."}.Body(20 * time.Minute)
	if !strings.Contains(fail, "Reason: Brand not found in ClickUp.") {
		t.Errorf("Unexpected fail body %q", fail)
	}

	retry := Message{Status: StatusRetry, Topic: "T", Brand: "Widgets", Details: "a.m4a"}.Body(20 * time.Minute)
	if !strings.Contains(retry, "20 minutes") || !strings.Contains(retry, "a.m4a") {
		t.Errorf("Unexpected retry body %q", retry)
	}
}

func TestNtfyNotifier(t *testing.T) {
	var gotTitle, gotTags, gotPriority, gotAuth, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		gotTags = r.Header.Get("Tags")
		gotPriority = r.Header.Get("Priority")
		gotAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(config.NotifyConfig{Backend: "ntfy", NtfyURL: server.URL, NtfyToken: "tk", Priority: "default"}, 20*time.Minute, nil)
	msg := Message{Status: StatusFail, Topic: "Acme x Gadgets", Brand: "Gadgets", Details: "Brand not found in ClickUp."}
	if err := n.Notify(context.Background(), msg); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	decoded, err := new(mime.WordDecoder).DecodeHeader(gotTitle)
	if err != nil || decoded != msg.Subject() {
		t.Errorf("Title = %q (decoded %q), want %q", gotTitle, decoded, msg.Subject())
	}
	if gotTags != "x,zoom,brand" {
		t.Errorf("Tags = %q", gotTags)
	}
	if gotPriority != "high" {
		t.Errorf("Priority = %q", gotPriority)
	}
	if gotAuth != "Bearer tk" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if !strings.Contains(gotBody, "Brand: Gadgets") {
		t.Errorf("Body = %q", gotBody)
	}
}

func TestNtfyNotifierReportsErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, "forbidden")
	}))
	defer server.Close()

	n := New(config.NotifyConfig{Backend: "ntfy", NtfyURL: server.URL}, time.Minute, nil)
	err := n.Notify(context.Background(), Message{Status: StatusSuccess, Topic: "T"})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("Expected 403 error, got %v", err)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	if _, ok := New(config.NotifyConfig{Backend: "none"}, 0, nil).(NoopNotifier); !ok {
		t.Error("Expected noop notifier")
	}
	if _, ok := New(config.NotifyConfig{Backend: "log"}, 0, nil).(LogNotifier); !ok {
		t.Error("Expected log notifier")
	}
	if _, ok := New(config.NotifyConfig{Backend: "ntfy"}, 0, nil).(LogNotifier); !ok {
		t.Error("Expected log fallback when ntfy has no URL")
	}
	if err := (LogNotifier{}).Notify(context.Background(), Message{Status: StatusRetry, Topic: "T"}); err != nil {
		t.Errorf("Log notifier should never fail: %v", err)
	}
}
