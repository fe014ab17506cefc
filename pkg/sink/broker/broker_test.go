package broker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nextcodebr/nxcd-apm/pkg/blob"
	"github.com/nextcodebr/nxcd-apm/pkg/codec"
	"github.com/nextcodebr/nxcd-apm/pkg/config"
	"github.com/nextcodebr/nxcd-apm/pkg/deflate"
	"github.com/nextcodebr/nxcd-apm/pkg/docstore"
	"github.com/nextcodebr/nxcd-apm/pkg/sink"
	"github.com/nextcodebr/nxcd-apm/pkg/sink/primary"
	"github.com/nextcodebr/nxcd-apm/pkg/telemetry/metrics"
	"github.com/nextcodebr/nxcd-apm/pkg/transaction"
)

const subject = "apm.test"

func batch(reqID string, n int) []*transaction.Transaction {
	out := make([]*transaction.Transaction, n)
	for i := range out {
		txn := transaction.New("orders", "Service", "place", reqID, int64(i+1))
		txn.Status = transaction.StatusSuccess
		out[i] = txn
	}
	return out
}

func testMetrics() *metrics.Collector {
	return metrics.NewCollector(&config.MetricsConfig{Enabled: true, Namespace: "test", Subsystem: "apm"}, prometheus.NewRegistry())
}

func newProxy(t *testing.T, cfg ProxyConfig[*transaction.Transaction]) *Proxy[*transaction.Transaction] {
	t.Helper()
	if cfg.Subject == "" {
		cfg.Subject = subject
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Hour
	}
	p, err := NewProxy(cfg)
	if err != nil {
		t.Fatalf("NewProxy() failed: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func startBridge(t *testing.T, cfg BridgeConfig[*transaction.Transaction]) *Bridge[*transaction.Transaction] {
	t.Helper()
	if cfg.Subject == "" {
		cfg.Subject = subject
	}
	b, err := NewBridge(cfg)
	if err != nil {
		t.Fatalf("NewBridge() failed: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Stop() })
	return b
}

func TestLocal_RoundRobin(t *testing.T) {
	ctx := context.Background()
	conn := NewLocal()

	if _, err := conn.Request(ctx, subject, nil); !errors.Is(err, ErrNoResponders) {
		t.Fatalf("Request() error = %v, want %v", err, ErrNoResponders)
	}

	reply := func(name string) Handler {
		return func(context.Context, []byte) []byte { return []byte(name) }
	}
	a, err := conn.QueueSubscribe(subject, "q", reply("a"))
	if err != nil {
		t.Fatalf("QueueSubscribe() failed: %v", err)
	}
	if _, err := conn.QueueSubscribe(subject, "q", reply("b")); err != nil {
		t.Fatalf("QueueSubscribe() failed: %v", err)
	}

	var got []string
	for i := 0; i < 4; i++ {
		r, err := conn.Request(ctx, subject, []byte("ping"))
		if err != nil {
			t.Fatalf("Request() failed: %v", err)
		}
		got = append(got, string(r))
	}
	if strings.Join(got, "") != "abab" {
		t.Errorf("replies = %v, want alternating a and b", got)
	}

	if err := a.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe() failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		r, _ := conn.Request(ctx, subject, nil)
		if string(r) != "b" {
			t.Errorf("reply after unsubscribe = %q, want b", r)
		}
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := conn.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Ping() error = %v, want %v", err, ErrClosed)
	}
	if _, err := conn.Request(ctx, subject, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Request() error = %v, want %v", err, ErrClosed)
	}
}

func TestLocal_RequestTimeout(t *testing.T) {
	conn := NewLocal()
	release := make(chan struct{})
	defer close(release)

	_, _ = conn.QueueSubscribe(subject, "q", func(context.Context, []byte) []byte {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := conn.Request(ctx, subject, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Request() error = %v, want deadline exceeded", err)
	}
}

func TestDial(t *testing.T) {
	conn, err := Dial(config.BrokerConfig{Transport: "local"})
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	if _, ok := conn.(*Local); !ok {
		t.Errorf("Dial(local) = %T, want *Local", conn)
	}

	if _, err := Dial(config.BrokerConfig{Transport: "carrier-pigeon"}); err == nil {
		t.Error("Dial() accepted an unknown transport")
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := NewProxy(ProxyConfig[int]{}); err == nil {
		t.Error("NewProxy() succeeded without a connection")
	}
	if _, err := NewBridge(BridgeConfig[int]{Conn: NewLocal()}); err == nil {
		t.Error("NewBridge() succeeded without a sink")
	}
}

func TestProxyBridge_AcceptPath(t *testing.T) {
	ctx := context.Background()
	conn := NewLocal()
	mem := sink.NewMemory[*transaction.Transaction]()
	col := testMetrics()

	startBridge(t, BridgeConfig[*transaction.Transaction]{Conn: conn, Sink: mem, Metrics: col})
	p := newProxy(t, ProxyConfig[*transaction.Transaction]{Conn: conn, Metrics: col})

	for _, txn := range batch("r1", 3) {
		p.Accept(txn)
	}
	if got := p.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	got := mem.All()
	if len(got) != 3 {
		t.Fatalf("bridge sink received %d items, want 3", len(got))
	}
	if got[2].ReqID != "r1" || got[2].Seq != 3 {
		t.Errorf("received %+v, want r1 seq 3", got[2])
	}

	expected := `
# HELP test_apm_broker_requests_total Total number of broker batch requests by role and result
# TYPE test_apm_broker_requests_total counter
test_apm_broker_requests_total{result="ok",role="bridge"} 1
test_apm_broker_requests_total{result="ok",role="proxy"} 1
`
	if err := testutil.GatherAndCompare(col.Registry(), strings.NewReader(expected), "test_apm_broker_requests_total"); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
}

func TestBridge_Handle(t *testing.T) {
	b, err := NewBridge(BridgeConfig[*transaction.Transaction]{Conn: NewLocal(), Sink: sink.NewMemory[*transaction.Transaction]()})
	if err != nil {
		t.Fatalf("NewBridge() failed: %v", err)
	}

	var ack Ack
	data, _ := codec.JSON.Marshal(batch("r1", 2))
	if err := codec.JSON.Unmarshal(b.Handle(context.Background(), data), &ack); err != nil {
		t.Fatalf("Unmarshal(ack) failed: %v", err)
	}
	if ack.OK != 2 || ack.Err != "" {
		t.Errorf("ack = %+v, want {OK:2}", ack)
	}

	if err := codec.JSON.Unmarshal(b.Handle(context.Background(), []byte("not json")), &ack); err != nil {
		t.Fatalf("Unmarshal(ack) failed: %v", err)
	}
	if ack.OK != 0 || ack.Err == "" {
		t.Errorf("ack = %+v, want an error", ack)
	}
}

type failingBatcher struct{}

func (failingBatcher) Accept(*transaction.Transaction) {}

func (failingBatcher) Ingest(context.Context, []*transaction.Transaction) error {
	return errors.New("store unavailable")
}

func TestProxy_RemoteErrorIsNotSpooled(t *testing.T) {
	conn := NewLocal()
	spooled := 0
	startBridge(t, BridgeConfig[*transaction.Transaction]{Conn: conn, Sink: failingBatcher{}})
	p := newProxy(t, ProxyConfig[*transaction.Transaction]{
		Conn:  conn,
		Spool: func(b []*transaction.Transaction) error { spooled += len(b); return nil },
	})

	err := p.Ingest(context.Background(), batch("r1", 2))
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("Ingest() error = %v, want *RemoteError", err)
	}
	if !strings.Contains(remote.Message, "store unavailable") {
		t.Errorf("remote message = %q", remote.Message)
	}
	if spooled != 0 {
		t.Errorf("spooled %d items, want 0", spooled)
	}
}

func TestProxy_Undelivered(t *testing.T) {
	ctx := context.Background()

	t.Run("spooled", func(t *testing.T) {
		var got []*transaction.Transaction
		col := testMetrics()
		p := newProxy(t, ProxyConfig[*transaction.Transaction]{
			Conn:    NewLocal(),
			Metrics: col,
			Spool: func(b []*transaction.Transaction) error {
				got = append(got, b...)
				return nil
			},
		})

		if err := p.Ingest(ctx, batch("r1", 2)); !errors.Is(err, ErrNoResponders) {
			t.Fatalf("Ingest() error = %v, want %v", err, ErrNoResponders)
		}
		if len(got) != 2 {
			t.Errorf("spooled %d items, want 2", len(got))
		}

		expected := `
# HELP test_apm_dlq_spooled_total Total number of transactions written to the dead-letter queue
# TYPE test_apm_dlq_spooled_total counter
test_apm_dlq_spooled_total{reason="broker"} 2
`
		if err := testutil.GatherAndCompare(col.Registry(), strings.NewReader(expected), "test_apm_dlq_spooled_total"); err != nil {
			t.Errorf("unexpected metrics: %v", err)
		}
	})

	t.Run("dropped", func(t *testing.T) {
		col := testMetrics()
		p := newProxy(t, ProxyConfig[*transaction.Transaction]{
			Conn:    NewLocal(),
			Metrics: col,
			Spool:   func([]*transaction.Transaction) error { return errors.New("disk full") },
		})

		if err := p.Ingest(ctx, batch("r1", 3)); err == nil {
			t.Fatal("Ingest() succeeded without a bridge")
		}

		expected := `
# HELP test_apm_proxy_dropped_total Total number of transactions a proxy could neither deliver nor spool
# TYPE test_apm_proxy_dropped_total counter
test_apm_proxy_dropped_total 3
`
		if err := testutil.GatherAndCompare(col.Registry(), strings.NewReader(expected), "test_apm_proxy_dropped_total"); err != nil {
			t.Errorf("unexpected metrics: %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		conn := NewLocal()
		release := make(chan struct{})
		defer close(release)
		_, _ = conn.QueueSubscribe(subject, "q", func(context.Context, []byte) []byte {
			<-release
			return nil
		})

		p := newProxy(t, ProxyConfig[*transaction.Transaction]{Conn: conn, Timeout: 10 * time.Millisecond})
		err := p.Ingest(ctx, batch("r1", 1))
		var timeout *TimeoutError
		if !errors.As(err, &timeout) {
			t.Errorf("Ingest() error = %v, want *TimeoutError", err)
		}
	})
}

func TestProxy_CloseFlushes(t *testing.T) {
	conn := NewLocal()
	mem := sink.NewMemory[*transaction.Transaction]()
	startBridge(t, BridgeConfig[*transaction.Transaction]{Conn: conn, Sink: mem})

	p, err := NewProxy(ProxyConfig[*transaction.Transaction]{Conn: conn, Subject: subject, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewProxy() failed: %v", err)
	}
	p.SetFlushInterval(2 * time.Hour)
	if got := p.FlushInterval(); got != 2*time.Hour {
		t.Errorf("FlushInterval() = %v, want 2h", got)
	}

	p.Accept(batch("r1", 1)[0])
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if got := mem.Completed(); got != 1 {
		t.Errorf("bridge received %d items, want 1", got)
	}
}

func TestProxy_AcceptDuringClose(t *testing.T) {
	conn := NewLocal()
	mem := sink.NewMemory[*transaction.Transaction]()
	startBridge(t, BridgeConfig[*transaction.Transaction]{Conn: conn, Sink: mem})

	var (
		mu      sync.Mutex
		spooled int
	)
	p := newProxy(t, ProxyConfig[*transaction.Transaction]{
		Conn:          conn,
		FlushInterval: time.Millisecond,
		Spool: func(b []*transaction.Transaction) error {
			mu.Lock()
			spooled += len(b)
			mu.Unlock()
			return nil
		},
	})

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
		started  = make(chan struct{}, 4)
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				p.Accept(transaction.New("orders", "Service", "place", "r1", int64(i)))
				accepted.Add(1)
				if i == 10 {
					started <- struct{}{}
				}
			}
		}()
	}
	for range 4 {
		<-started
	}

	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	wg.Wait()

	if got := p.Len(); got != 0 {
		t.Errorf("Len() = %d after Close, want 0", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if got, want := mem.Completed()+spooled, int(accepted.Load()); got != want {
		t.Errorf("delivered+spooled = %d, want %d accepted", got, want)
	}
}

func TestProxyBridge_PlainBinary(t *testing.T) {
	payload := bytes.Repeat([]byte{0, 0xAB, 0xFF}, 100)
	hash := blob.Hash(payload)

	for _, s := range []codec.Serializer{codec.JSON, codec.CBOR} {
		t.Run(s.Name(), func(t *testing.T) {
			ctx := context.Background()
			conn := NewLocal()
			store := docstore.NewMemory()

			cfg := primary.DefaultConfig()
			cfg.Connector = func(context.Context) (docstore.Store, error) { return store, nil }
			cfg.Blobs = primary.StoreBlobs
			cfg.EmbedLimit = 16
			cfg.DLQBase = t.TempDir()
			cfg.DLQSerializer = s
			cfg.FlushInterval = time.Hour
			master, err := primary.New(cfg)
			if err != nil {
				t.Fatalf("primary.New() failed: %v", err)
			}
			defer master.Close(ctx)

			startBridge(t, BridgeConfig[*transaction.Transaction]{
				Conn:       conn,
				Serializer: s,
				Revive:     Decode[*transaction.Transaction](s),
				Sink:       master,
			})
			p := newProxy(t, ProxyConfig[*transaction.Transaction]{Conn: conn, Serializer: s})

			txns := batch("r1", 1)
			txns[0].Input = map[string]any{"data": payload}

			// The first insert fails, so the batch crosses the wire and then
			// the dead-letter queue before it is stored.
			store.FailNext(errors.New("store down"))
			if err := p.Ingest(ctx, txns); err == nil {
				t.Fatal("Ingest() succeeded with the store down")
			}
			if n, err := master.Drain(ctx); err != nil || n != 1 {
				t.Fatalf("Drain() = %d, %v, want 1", n, err)
			}

			docs := store.Docs()
			if len(docs) != 1 {
				t.Fatalf("store holds %d docs, want 1", len(docs))
			}
			input, ok := docs[0].Input.(map[string]any)
			if !ok {
				t.Fatalf("stored input = %T, want map", docs[0].Input)
			}
			if got, ok := deflate.HandleHash(input["data"], deflate.DefaultHandleKey); !ok || got != hash {
				t.Errorf("stored payload = %v, want handle for %s", input["data"], hash)
			}
		})
	}
}

func TestProxyBridge_ToPrimary(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 256)

	for _, s := range []codec.Serializer{codec.JSON, codec.CBOR} {
		t.Run(s.Name(), func(t *testing.T) {
			ctx := context.Background()
			conn := NewLocal()
			store := docstore.NewMemory()

			cfg := primary.DefaultConfig()
			cfg.Connector = func(context.Context) (docstore.Store, error) { return store, nil }
			cfg.DLQBase = t.TempDir()
			cfg.FlushInterval = time.Hour
			master, err := primary.New(cfg)
			if err != nil {
				t.Fatalf("primary.New() failed: %v", err)
			}
			defer master.Close(ctx)

			startBridge(t, BridgeConfig[*transaction.Transaction]{
				Conn:       conn,
				Serializer: s,
				Revive:     InflateEnvelope(s, deflate.DefaultHandleKey),
				Sink:       master,
			})

			p := newProxy(t, ProxyConfig[*transaction.Transaction]{
				Conn:       conn,
				Serializer: s,
				Transform:  DeflateEnvelope(deflate.DefaultHandleKey, 64),
			})

			txns := batch("r1", 2)
			txns[0].Input = map[string]any{"data": payload}
			if err := p.Ingest(ctx, txns); err != nil {
				t.Fatalf("Ingest() failed: %v", err)
			}

			docs := store.Docs()
			if len(docs) != 2 {
				t.Fatalf("store holds %d docs, want 2", len(docs))
			}
			input, ok := docs[0].Input.(map[string]any)
			if !ok {
				t.Fatalf("stored input = %T, want map", docs[0].Input)
			}
			if got, ok := input["data"].([]byte); !ok || !bytes.Equal(got, payload) {
				t.Errorf("stored payload = %v, want the original bytes", input["data"])
			}
		})
	}
}
