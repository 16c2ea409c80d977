package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/printme/internal/app"
	"github.com/vladislavdragonenkov/printme/internal/domain"
)

func withCLIArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"loadtest"}, args...)
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flag.CommandLine = fs

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

// newStorefrontServer поднимает настоящую витрину на in-memory зависимостях.
func newStorefrontServer(t *testing.T) (*httptest.Server, *app.Dependencies) {
	t.Helper()

	cfg := app.DefaultConfig()
	cfg.RenderOutputDir = t.TempDir()
	logger := log.New()
	logger.SetOutput(io.Discard)
	deps, err := app.NewDependencies(context.Background(), cfg, log.NewEntry(logger))
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	srv := httptest.NewServer(deps.Router())
	t.Cleanup(srv.Close)
	return srv, deps
}

func testConfig(addr string, mode loadMode) config {
	return config{
		addr:        addr,
		mode:        mode,
		timeout:     2 * time.Second,
		connections: 2,
		variantID:   "tee-classic-M-black",
		quantity:    1,
		userTag:     "load",
		adminID:     "admin-1",
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    loadMode
		wantErr string
	}{
		{name: "create", input: "create", want: modeCreate},
		{name: "create-pay", input: "create-pay", want: modeCreatePay},
		{name: "create-cancel", input: " create-cancel ", want: modeCreateCancel},
		{name: "unsupported", input: "bad", wantErr: "unsupported mode"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseMode(tc.input)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected mode: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		withCLIArgs(t, []string{
			"-addr=http://127.0.0.1:8080/",
			"-mode=create-pay",
			"-total=12",
			"-concurrency=3",
			"-connections=2",
			"-timeout=2s",
			"-replay",
			"-variant=mug-classic-11oz-white",
			"-quantity=3",
			"-user-tag=stage",
			"-output=/tmp/out.json",
		}, func() {
			cfg, err := parseConfig()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !cfg.totalSet || !cfg.replay {
				t.Fatalf("expected totalSet and replay, got %+v", cfg)
			}
			if cfg.addr != "http://127.0.0.1:8080" {
				t.Fatalf("trailing slash must be trimmed: %q", cfg.addr)
			}
			if cfg.mode != modeCreatePay {
				t.Fatalf("unexpected mode: %s", cfg.mode)
			}
			if cfg.total != 12 || cfg.concurrency != 3 || cfg.connections != 2 || cfg.quantity != 3 {
				t.Fatalf("unexpected numeric config: %+v", cfg)
			}
			if cfg.timeout != 2*time.Second {
				t.Fatalf("unexpected timeout: %s", cfg.timeout)
			}
		})
	})

	t.Run("duration mode", func(t *testing.T) {
		withCLIArgs(t, []string{"-duration=3s", "-concurrency=2"}, func() {
			cfg, err := parseConfig()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.duration != 3*time.Second {
				t.Fatalf("unexpected duration: %s", cfg.duration)
			}
			if cfg.totalSet {
				t.Fatalf("expected totalSet=false when -total was not provided")
			}
		})
	})

	t.Run("validation errors", func(t *testing.T) {
		tests := []struct {
			name    string
			args    []string
			wantErr string
		}{
			{name: "invalid timeout", args: []string{"-timeout=soon"}, wantErr: "parse timeout"},
			{name: "invalid duration", args: []string{"-duration=bad"}, wantErr: "parse duration"},
			{name: "negative duration", args: []string{"-duration=-1s"}, wantErr: "duration must be >= 0"},
			{name: "invalid cancel rate", args: []string{"-cancel-rate=101"}, wantErr: "cancel-rate must be between 0 and 100"},
			{name: "empty total", args: []string{"-duration=0s", "-total=0"}, wantErr: "total must be > 0"},
			{name: "quantity", args: []string{"-quantity=0"}, wantErr: "quantity must be between 1 and 99"},
			{name: "variant", args: []string{"-variant= "}, wantErr: "variant is required"},
			{name: "admin", args: []string{"-mode=create-pay", "-admin-id="}, wantErr: "admin-id is required"},
			{name: "addr", args: []string{"-addr=/"}, wantErr: "addr is required"},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				withCLIArgs(t, tc.args, func() {
					_, err := parseConfig()
					if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
						t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
					}
				})
			})
		}
	})
}

func TestDispatchJobs(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{total: 5})

		var got []int
		for v := range jobs {
			got = append(got, v)
		}
		if !slices.Equal(got, []int{0, 1, 2, 3, 4}) {
			t.Fatalf("unexpected jobs sequence: %v", got)
		}
	})

	t.Run("duration mode", func(t *testing.T) {
		jobs := make(chan int, 32)
		done := make(chan struct{})
		go func() {
			dispatchJobs(jobs, config{duration: 20 * time.Millisecond})
			close(done)
		}()

		count := 0
		for range jobs {
			count++
		}
		<-done
		if count == 0 {
			t.Fatalf("expected non-zero jobs for duration mode")
		}
	})

	t.Run("duration with explicit max total", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{duration: time.Second, total: 3, totalSet: true})
		count := 0
		for range jobs {
			count++
		}
		if count != 3 {
			t.Fatalf("expected 3 jobs, got %d", count)
		}
	})
}

func TestCollectorAndReport(t *testing.T) {
	c := newCollector()
	c.record("scenario", 10*time.Millisecond, "ok", true)
	c.record("scenario", 20*time.Millisecond, "failed", false)
	c.record("CreateOrder", 15*time.Millisecond, "201", true)

	snap, ok := c.snapshot("scenario")
	if !ok {
		t.Fatalf("scenario snapshot missing")
	}
	if snap.Calls != 2 || snap.Success != 1 || snap.Failed != 1 {
		t.Fatalf("unexpected scenario snapshot: %+v", snap)
	}
	if snap.Codes["ok"] != 1 || snap.Codes["failed"] != 1 {
		t.Fatalf("unexpected codes: %+v", snap.Codes)
	}
	if _, ok := c.snapshot("missing"); ok {
		t.Fatalf("unknown method must not have a snapshot")
	}

	r := c.buildReport(time.Now(), 2*time.Second)
	if r.TotalScenarios != 2 || r.FailedScenarios != 1 {
		t.Fatalf("unexpected report totals: %+v", r)
	}
	if r.RPS <= 0 {
		t.Fatalf("expected positive rps, got %f", r.RPS)
	}
	if r.Methods["CreateOrder"].Codes["201"] != 1 {
		t.Fatalf("expected CreateOrder stats in report: %+v", r.Methods)
	}
}

func TestUtilityFunctions(t *testing.T) {
	if got := ratio(1, 4); got != 0.25 {
		t.Fatalf("ratio mismatch: %f", got)
	}
	if got := ratio(1, 0); got != 0 {
		t.Fatalf("ratio with zero total must be 0, got %f", got)
	}

	values := []float64{10, 20, 30, 40}
	summary := buildLatencySummary(values)
	if summary.P50 <= 0 || summary.P95 <= 0 || summary.Max != 40 {
		t.Fatalf("unexpected latency summary: %+v", summary)
	}
	if p := percentile(values, 95); p <= 0 {
		t.Fatalf("unexpected percentile: %f", p)
	}
	if (buildLatencySummary(nil) != latencySummary{}) {
		t.Fatalf("empty latency summary must be zero")
	}

	if !shouldCancelScenario(5, 10) || shouldCancelScenario(15, 10) || shouldCancelScenario(0, 0) || !shouldCancelScenario(99, 100) {
		t.Fatalf("unexpected cancel sampling")
	}

	if got := runTarget(config{total: 50}); got != "count:50" {
		t.Fatalf("unexpected run target: %s", got)
	}
	if got := runTarget(config{duration: 2 * time.Second}); got != "duration:2s" {
		t.Fatalf("unexpected duration run target: %s", got)
	}
	if got := runTarget(config{duration: 2 * time.Second, total: 10, totalSet: true}); got != "duration:2s,max-total:10" {
		t.Fatalf("unexpected capped duration run target: %s", got)
	}
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	sample := report{TotalScenarios: 2, SuccessScenarios: 2}
	if err := writeJSONReport(path, sample); err != nil {
		t.Fatalf("writeJSONReport error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}

	var decoded report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.TotalScenarios != 2 || decoded.SuccessScenarios != 2 {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}

	if err := writeJSONReport(".", sample); err == nil {
		t.Fatalf("expected error for directory path")
	}
	if err := writeJSONReport("../report.json", sample); err == nil {
		t.Fatalf("expected error for path outside current directory")
	}
}

func TestRunScenario_AgainstStorefront(t *testing.T) {
	srv, deps := newStorefrontServer(t)

	tests := []struct {
		mode       loadMode
		replay     bool
		wantStatus domain.OrderStatus
		wantCalls  []string
	}{
		{mode: modeCreate, replay: true, wantStatus: domain.OrderStatusPending, wantCalls: []string{"CreateOrder", "ReplayOrder"}},
		{mode: modeCreatePay, wantStatus: domain.OrderStatusPaid, wantCalls: []string{"CreateOrder", "MarkPaid"}},
		{mode: modeCreateCancel, wantStatus: domain.OrderStatusCancelled, wantCalls: []string{"CreateOrder", "CancelOrder"}},
	}

	for i, tc := range tests {
		t.Run(string(tc.mode), func(t *testing.T) {
			col := newCollector()
			cfg := testConfig(srv.URL, tc.mode)
			cfg.replay = tc.replay
			api := newStorefront(cfg, col)
			defer api.close()

			require.NoError(t, runScenario(api, cfg, i, "run-1"))

			for _, name := range tc.wantCalls {
				snap, ok := col.snapshot(name)
				require.True(t, ok, "expected %s call", name)
				require.EqualValues(t, 1, snap.Success)
			}
			scenario, ok := col.snapshot("scenario")
			require.True(t, ok)
			require.EqualValues(t, 1, scenario.Success)

			var orders []domain.Order
			err := deps.UnitOfWork.Do(context.Background(), func(ctx context.Context, repos domain.Repositories) error {
				var listErr error
				orders, listErr = repos.Orders.List(ctx, domain.OrderListFilter{UserID: fmt.Sprintf("load-run-1-%d", i)})
				return listErr
			})
			require.NoError(t, err)
			require.Len(t, orders, 1)
			require.Equal(t, tc.wantStatus, orders[0].Status)
		})
	}
}

func TestRunScenario_Failures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch {
		case r.Header.Get(headerUserID) == "":
			w.WriteHeader(http.StatusUnauthorized)
		case strings.Contains(r.Header.Get(headerIdempotencyKey), "empty"):
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"order":{},"created":true}`))
		case strings.Contains(r.Header.Get(headerIdempotencyKey), "garbage"):
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`not json`))
		default:
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":{"code":"INSUFFICIENT_STOCK"}}`))
		}
	}))
	defer srv.Close()

	col := newCollector()
	cfg := testConfig(srv.URL, modeCreate)
	api := newStorefront(cfg, col)
	defer api.close()

	err := runScenario(api, cfg, 1, "conflict")
	var statusErr *statusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusConflict, statusErr.status)
	require.Contains(t, statusErr.Error(), "INSUFFICIENT_STOCK")

	err = runScenario(api, cfg, 2, "empty")
	require.ErrorContains(t, err, "empty order id")

	err = runScenario(api, cfg, 3, "garbage")
	require.ErrorContains(t, err, "decode body")

	snap, ok := col.snapshot("CreateOrder")
	require.True(t, ok)
	require.EqualValues(t, 3, snap.Calls)
	require.EqualValues(t, 1, snap.Codes["409"])
	require.EqualValues(t, 1, snap.Codes[codeTransport])

	scenario, _ := col.snapshot("scenario")
	require.EqualValues(t, 3, scenario.Failed)
	require.EqualValues(t, 3, calls.Load())

	srv.Close()
	err = runScenario(api, cfg, 4, "down")
	require.Error(t, err)
}

func TestRunScenario_ReplayMismatch(t *testing.T) {
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if n.Add(1) == 1 {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"order":{"id":"o-1"},"created":true}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"order":{"id":"o-2"},"created":false}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, modeCreate)
	cfg.replay = true
	api := newStorefront(cfg, newCollector())
	defer api.close()

	require.ErrorContains(t, runScenario(api, cfg, 1, "replay"), "replay returned order o-2")
}

func TestPrintReport(t *testing.T) {
	r := report{
		TotalScenarios:   2,
		SuccessScenarios: 2,
		Methods: map[string]methodReport{
			"scenario":    {Calls: 2, Success: 2},
			"CreateOrder": {Calls: 2, Success: 2},
		},
	}

	out := captureStdout(t, func() {
		printReport(r, config{mode: modeCreate, total: 2})
	})

	if !strings.Contains(out, "Load test summary") {
		t.Fatalf("expected summary header, got: %s", out)
	}
	if !strings.Contains(out, "CreateOrder") {
		t.Fatalf("expected method section, got: %s", out)
	}
}

func TestMainSmoke(t *testing.T) {
	srv, _ := newStorefrontServer(t)

	dir := t.TempDir()
	outPath := filepath.Join(dir, "main-report.json")

	_ = captureStdout(t, func() {
		withCLIArgs(t, []string{
			"-addr=" + srv.URL,
			"-mode=create-pay",
			"-total=5",
			"-concurrency=2",
			"-connections=1",
			"-timeout=2s",
			"-replay",
			"-output=" + outPath,
		}, func() {
			main()
		})
	})

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var decoded report
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.EqualValues(t, 5, decoded.SuccessScenarios)
	require.EqualValues(t, 5, decoded.Methods["MarkPaid"].Success)
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	fn()

	_ = w.Close()
	os.Stdout = oldStdout

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read captured output: %v", err)
	}
	_ = r.Close()

	return string(data)
}
