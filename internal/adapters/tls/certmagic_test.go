package tls

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/jobrunner/geofetch/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"disabled", Config{}, ""},
		{"enabled", Config{Enabled: true, Domains: []string{"geo.example.com"}, Email: "ops@example.com"}, ""},
		{"no domains", Config{Enabled: true, Email: "ops@example.com"}, "tls.domains"},
		{"no email", Config{Enabled: true, Domains: []string{"geo.example.com"}}, "tls.email"},
		{
			"dns without resource group",
			Config{Enabled: true, Domains: []string{"geo.example.com"}, Email: "ops@example.com", DNS: DNSConfig{SubscriptionID: "sub"}},
			"tls.azure_dns.resource_group_name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			var ce *domain.ConfigError
			if !errors.As(err, &ce) || ce.Field != tt.field {
				t.Errorf("Validate() error = %v, want ConfigError for %s", err, tt.field)
			}
		})
	}
}

func TestServerWithoutTLS(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	s, err := NewServer(Config{}, &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: time.Second}, testLogger())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if s.TLSConfig() != nil {
		t.Error("TLSConfig() should be nil without TLS")
	}
	if err := s.ManageCertificates(context.Background()); err != nil {
		t.Errorf("ManageCertificates() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe() }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("ListenAndServe() error = %v, want nil after shutdown", err)
	}
}
