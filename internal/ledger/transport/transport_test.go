package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewHTTP_RequiresURL(t *testing.T) {
	if _, err := NewHTTP(HTTPConfig{}); err == nil {
		t.Error("Expected error without a URL")
	}
}

func TestHTTP_Exchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/octet-stream" {
			t.Errorf("Content-Type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		w.Write(append([]byte("echo:"), body...))
	}))
	defer srv.Close()

	tr, err := NewHTTP(HTTPConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTP() error = %v", err)
	}

	got, err := tr.Exchange(context.Background(), []byte("hi"))
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if string(got) != "echo:hi" {
		t.Errorf("Exchange() = %q, want %q", got, "echo:hi")
	}
}

func TestHTTP_Exchange_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr, err := NewHTTP(HTTPConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTP() error = %v", err)
	}

	_, err = tr.Exchange(context.Background(), nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Expected a StatusError, got %v", err)
	}
	if se.Code != http.StatusServiceUnavailable {
		t.Errorf("Code = %d, want %d", se.Code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(se.Error(), "maintenance") {
		t.Errorf("Error() = %q, want the response body", se.Error())
	}
}

func TestHTTP_Exchange_Cancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	tr, err := NewHTTP(HTTPConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTP() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = tr.Exchange(ctx, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Exchange() error = %v, want DeadlineExceeded", err)
	}
}

func TestFunc(t *testing.T) {
	var f Transport = Func(func(ctx context.Context, p []byte) ([]byte, error) {
		return p, nil
	})
	got, err := f.Exchange(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if string(got) != "x" {
		t.Errorf("Exchange() = %q, want %q", got, "x")
	}
}
