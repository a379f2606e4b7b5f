package loadtest

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/steveyegge/budgetsync/internal/ledger/transport"
	"github.com/steveyegge/budgetsync/internal/remote"
)

var quiet = log.New(io.Discard, "", 0)

func inProcess() func() (transport.Transport, error) {
	h := remote.NewHandler(remote.NewMemory(nil), quiet)
	return func() (transport.Transport, error) { return h.Transport(), nil }
}

// TestRun_Converges verifies that concurrent devices end with one ledger.
func TestRun_Converges(t *testing.T) {
	report, err := Run(context.Background(), Config{
		Devices:       5,
		Rounds:        5,
		EditsPerRound: 4,
		Seed:          42,
		NewTransport:  inProcess(),
		Logger:        quiet,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !report.Converged {
		t.Fatalf("Devices diverged: %v", report.Mismatches)
	}
	if report.Stats.TotalSyncs != 25 {
		t.Errorf("Expected 25 syncs, got %d", report.Stats.TotalSyncs)
	}
	if report.Stats.Errors != 0 {
		t.Errorf("Got %d sync errors", report.Stats.Errors)
	}
	if report.Edits != 100 {
		t.Errorf("Expected 100 edits, got %d", report.Edits)
	}
	if report.EditErrors != 0 {
		t.Errorf("Got %d edit errors", report.EditErrors)
	}
	if report.Rows == 0 {
		t.Error("Expected some rows to survive")
	}

	t.Logf("%d rows, balance %s, %v", report.Rows, report.Balance, report.Elapsed)
}

// TestRun_OverHTTP runs a small fleet through the HTTP transport.
func TestRun_OverHTTP(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping HTTP load test in short mode")
	}

	srv := httptest.NewServer(remote.NewHandler(remote.NewMemory(nil), quiet))
	defer srv.Close()

	report, err := Run(context.Background(), Config{
		Devices: 8,
		Rounds:  3,
		NewTransport: func() (transport.Transport, error) {
			return transport.NewHTTP(transport.HTTPConfig{URL: srv.URL + "/sync", Timeout: 5 * time.Second})
		},
		Logger: quiet,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !report.Converged {
		t.Fatalf("Devices diverged: %v", report.Mismatches)
	}

	report.Stats.PrintStats(io.Discard)
	if report.Stats.Mean > time.Second {
		t.Errorf("Mean sync time too high: %v", report.Stats.Mean)
	}
}

// TestRun_CountsSyncErrors verifies that failed syncs are counted and the
// settle phase reports the failure.
func TestRun_CountsSyncErrors(t *testing.T) {
	down := errors.New("server down")
	_, err := Run(context.Background(), Config{
		Devices: 2,
		Rounds:  2,
		NewTransport: func() (transport.Transport, error) {
			return transport.Func(func(ctx context.Context, payload []byte) ([]byte, error) {
				return nil, down
			}), nil
		},
		Logger: quiet,
	})
	if err == nil {
		t.Fatal("Expected an error when the server is unreachable")
	}
	if !errors.Is(err, down) {
		t.Errorf("Expected the transport error to be wrapped, got %v", err)
	}
}

func TestRun_RequiresTransport(t *testing.T) {
	if _, err := Run(context.Background(), Config{}); err == nil {
		t.Fatal("Expected error without a transport factory")
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var ds []time.Duration
	for i := 100; i >= 1; i-- {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}

	s := computeLatencyStats(ds)
	if s.Min != time.Millisecond || s.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", s.Min, s.Max)
	}
	if s.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", s.P50)
	}
	if s.P99 != 100*time.Millisecond {
		t.Errorf("P99 = %v, want 100ms", s.P99)
	}
	if s.TotalSyncs != 100 {
		t.Errorf("TotalSyncs = %d", s.TotalSyncs)
	}
	if ds[0] != 100*time.Millisecond {
		t.Error("Input slice was reordered")
	}
}
