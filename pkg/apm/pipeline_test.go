package apm

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextcodebr/nxcd-apm/pkg/config"
	"github.com/nextcodebr/nxcd-apm/pkg/docstore"
	"github.com/nextcodebr/nxcd-apm/pkg/sink/broker"
	"github.com/nextcodebr/nxcd-apm/pkg/telemetry/health"
	"github.com/nextcodebr/nxcd-apm/pkg/transaction"
)

func testConfig(t *testing.T, dbPath string) *config.Config {
	t.Helper()
	cfg := config.NewDefault()
	cfg.Store.URL = dbPath
	cfg.DLQ.Path = t.TempDir()
	cfg.Flush.Interval = time.Hour
	cfg.Telemetry.Logging.Level = "error"
	return cfg
}

func completed(reqID string, seq int64) *transaction.Transaction {
	txn := transaction.New("orders", "Service", "place", reqID, seq)
	txn.Status = transaction.StatusSuccess
	return txn
}

func countRows(t *testing.T, dbPath string) int64 {
	t.Helper()
	ctx := context.Background()
	store, err := docstore.OpenSQLite(ctx, docstore.SQLiteConfig{Path: dbPath})
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	defer store.Close(ctx)

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	return n
}

func TestPipeline_Primary(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "apm.db")
	reg := transaction.NewRegistry()

	p, err := New(testConfig(t, dbPath), Options{Registry: reg})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if p.Master() == nil || p.Proxy() != nil {
		t.Fatal("New() did not build a primary sink")
	}

	reg.Sink().Accept(completed("r1", 1))
	reg.Sink().Accept(completed("r1", 2))

	status := p.Telemetry().Health().CheckReadiness(ctx)
	if status.Status != health.StatusReady {
		t.Errorf("readiness = %+v, want ready", status)
	}

	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if got := countRows(t, dbPath); got != 2 {
		t.Errorf("stored %d rows, want 2", got)
	}

	// The registry no longer points at the closed sink.
	reg.Sink().Accept(completed("r1", 3))
	if got := countRows(t, dbPath); got != 2 {
		t.Errorf("stored %d rows after close, want 2", got)
	}
}

func TestPipeline_ProxyToBridge(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "apm.db")
	conn := broker.NewLocal()

	bridgeCfg := testConfig(t, dbPath)
	bridgeCfg.Broker.Enabled = true
	bridgeCfg.Broker.Transport = "local"
	bridgeCfg.Broker.Deflate = true

	bridge, err := New(bridgeCfg, Options{Registry: transaction.NewRegistry(), Conn: conn})
	if err != nil {
		t.Fatalf("New(bridge) failed: %v", err)
	}

	proxyCfg := testConfig(t, "")
	proxyCfg.Broker.Enabled = true
	proxyCfg.Broker.Transport = "local"
	proxyCfg.Broker.Mode = "proxy"
	proxyCfg.Broker.Deflate = true

	reg := transaction.NewRegistry()
	proxy, err := New(proxyCfg, Options{Registry: reg, Conn: conn})
	if err != nil {
		t.Fatalf("New(proxy) failed: %v", err)
	}
	if proxy.Proxy() == nil || proxy.Master() != nil {
		t.Fatal("New() did not build a proxy")
	}

	txn := completed("r1", 1)
	txn.Input = map[string]any{"file": bytes.Repeat([]byte("x"), 4096)}
	reg.Sink().Accept(txn)

	if err := proxy.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if err := proxy.Close(ctx); err != nil {
		t.Fatalf("Close(proxy) failed: %v", err)
	}
	if err := bridge.Close(ctx); err != nil {
		t.Fatalf("Close(bridge) failed: %v", err)
	}

	if got := countRows(t, dbPath); got != 1 {
		t.Errorf("stored %d rows, want 1", got)
	}

	// The shared connection belongs to the caller.
	if err := conn.Ping(ctx); err != nil {
		t.Errorf("Ping() failed after pipelines closed: %v", err)
	}
}

func TestPipeline_ProxySpoolsAndDrains(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "apm.db")
	conn := broker.NewLocal()

	proxyCfg := testConfig(t, "")
	proxyCfg.Broker.Enabled = true
	proxyCfg.Broker.Mode = "proxy"

	reg := transaction.NewRegistry()
	proxy, err := New(proxyCfg, Options{Registry: reg, Conn: conn})
	if err != nil {
		t.Fatalf("New(proxy) failed: %v", err)
	}
	defer proxy.Close(ctx)

	reg.Sink().Accept(completed("r1", 1))
	reg.Sink().Accept(completed("r1", 2))
	if err := proxy.Flush(ctx); !errors.Is(err, broker.ErrNoResponders) {
		t.Fatalf("Flush() error = %v, want %v", err, broker.ErrNoResponders)
	}

	if _, err := proxy.Drain(ctx); !errors.Is(err, broker.ErrNoResponders) {
		t.Fatalf("Drain() error = %v, want %v", err, broker.ErrNoResponders)
	}

	bridgeCfg := testConfig(t, dbPath)
	bridgeCfg.Broker.Enabled = true
	bridge, err := New(bridgeCfg, Options{Registry: transaction.NewRegistry(), Conn: conn})
	if err != nil {
		t.Fatalf("New(bridge) failed: %v", err)
	}

	n, err := proxy.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Drain() = %d, want 2", n)
	}
	if err := bridge.Close(ctx); err != nil {
		t.Fatalf("Close(bridge) failed: %v", err)
	}
	if got := countRows(t, dbPath); got != 2 {
		t.Errorf("stored %d rows, want 2", got)
	}
}

func TestPipeline_ProxyReplaysSpoolOnTimer(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "apm.db")
	conn := broker.NewLocal()

	proxyCfg := testConfig(t, "")
	proxyCfg.Broker.Enabled = true
	proxyCfg.Broker.Mode = "proxy"
	proxyCfg.Broker.ReplayInterval = 10 * time.Millisecond

	reg := transaction.NewRegistry()
	proxy, err := New(proxyCfg, Options{Registry: reg, Conn: conn})
	if err != nil {
		t.Fatalf("New(proxy) failed: %v", err)
	}
	defer proxy.Close(ctx)

	reg.Sink().Accept(completed("r1", 1))
	reg.Sink().Accept(completed("r1", 2))
	if err := proxy.Flush(ctx); !errors.Is(err, broker.ErrNoResponders) {
		t.Fatalf("Flush() error = %v, want %v", err, broker.ErrNoResponders)
	}

	bridgeCfg := testConfig(t, dbPath)
	bridgeCfg.Broker.Enabled = true
	bridge, err := New(bridgeCfg, Options{Registry: transaction.NewRegistry(), Conn: conn})
	if err != nil {
		t.Fatalf("New(bridge) failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		n, err := proxy.spool.Len()
		if err != nil {
			t.Fatalf("Len() failed: %v", err)
		}
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("spool still holds %d entries", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := bridge.Close(ctx); err != nil {
		t.Fatalf("Close(bridge) failed: %v", err)
	}
	if got := countRows(t, dbPath); got != 2 {
		t.Errorf("stored %d rows, want 2", got)
	}
}

func TestPipeline_Reload(t *testing.T) {
	ctx := context.Background()
	reg := transaction.NewRegistry()
	cfg := testConfig(t, filepath.Join(t.TempDir(), "apm.db"))

	p, err := New(cfg, Options{Registry: reg})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer p.Close(ctx)

	next := testConfig(t, cfg.Store.URL)
	next.Context.UnboundPolicy = "error"
	next.Flush.Interval = 2 * time.Hour

	if err := p.Reload(next); err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}
	if reg.Policy() != transaction.PolicyError {
		t.Errorf("Policy() = %v, want error", reg.Policy())
	}
	if got := p.Master().FlushInterval(); got != 2*time.Hour {
		t.Errorf("FlushInterval() = %v, want 2h", got)
	}

	bad := testConfig(t, cfg.Store.URL)
	bad.Context.UnboundPolicy = "panic"
	if err := p.Reload(bad); err == nil {
		t.Error("Reload() accepted an invalid policy")
	}
	if reg.Policy() != transaction.PolicyError {
		t.Error("failed Reload() changed the policy")
	}
}

func TestNew_InvalidBroker(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "apm.db"))
	cfg.Broker.Enabled = true
	cfg.Broker.Transport = "smoke-signals"

	if _, err := New(cfg, Options{Registry: transaction.NewRegistry()}); err == nil {
		t.Fatal("New() accepted an unknown transport")
	}
}
