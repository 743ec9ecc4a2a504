package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewSafeClient_Timeout(t *testing.T) {
	client := NewWebhookGuard().NewSafeClient(5 * time.Second)
	if client.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %v", client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport")
	}
}

// httptestサーバーは127.0.0.1で起動するため、接続はブロックされる。
func TestNewSafeClient_BlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewWebhookGuard().NewSafeClient(5 * time.Second)
	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

func TestValidateURL(t *testing.T) {
	guard := NewWebhookGuard()

	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://hooks.example.com/manabiya", false},
		{"http://notify.example.org/events", false},
		{"", true},
		{"ftp://example.com/hook", true},
		{"file:///etc/passwd", true},
		{"https:///no-host", true},
		{"http://localhost/hook", true},
		{"http://127.0.0.1/hook", true},
		{"http://10.1.2.3/hook", true},
		{"http://172.20.0.5/hook", true},
		{"http://192.168.1.10/hook", true},
		{"http://169.254.169.254/latest/meta-data/", true},
		{"http://[::1]/hook", true},
		{"http://[fd00::1]/hook", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
