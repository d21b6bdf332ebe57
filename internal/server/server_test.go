package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/adcondev/printer-proxy/internal/config"
	"github.com/adcondev/printer-proxy/internal/health"
	"github.com/adcondev/printer-proxy/internal/registry"
)

func testPrinters() []config.Printer {
	return []config.Printer{
		{
			Name: "Kasir Depan",
			ID:   "kasir_1",
			Backend: config.Backend{
				Kind: config.BackendKindTCP9100,
				Host: "192.168.1.21",
				Port: 9100,
			},
		},
	}
}

func newTestServer(cfg Config) *Server {
	return NewServer(cfg, registry.NewInMemory(testPrinters()), health.NewCache(5*time.Minute))
}

// dialTestServer spins up the server behind httptest and dials it.
func dialTestServer(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, resp, err := websocket.Dial(ctx, "ws"+ts.URL[4:], nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	// consume the welcome message
	var welcome Response
	if err := wsjson.Read(ctx, conn, &welcome); err != nil {
		t.Fatalf("reading welcome: %v", err)
	}
	if welcome.Tipo != "info" {
		t.Fatalf("welcome tipo = %q; want info", welcome.Tipo)
	}
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg Message) Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var resp Response
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return resp
}

func TestWebSocketOrigin(t *testing.T) {
	t.Run("Restricted Origin", func(t *testing.T) {
		srv := newTestServer(Config{
			QueueSize:      10,
			AllowedOrigins: []string{"good.com"},
		})
		defer srv.Shutdown()

		ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
		defer ts.Close()

		u := "ws" + ts.URL[4:]
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		opts := &websocket.DialOptions{
			HTTPHeader: http.Header{
				"Origin": []string{"http://good.com"},
			},
		}
		conn, resp, err := websocket.Dial(ctx, u, opts)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			t.Fatalf("Connection from good.com failed: %v", err)
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")

		optsBad := &websocket.DialOptions{
			HTTPHeader: http.Header{
				"Origin": []string{"http://evil.com"},
			},
		}
		_, respBad, err := websocket.Dial(ctx, u, optsBad)
		if respBad != nil && respBad.Body != nil {
			_ = respBad.Body.Close()
		}
		if err == nil {
			t.Fatalf("Connection from evil.com succeeded (should fail)")
		}
	})

	t.Run("Same Origin Enforcement", func(t *testing.T) {
		srv := newTestServer(Config{QueueSize: 10})
		defer srv.Shutdown()

		ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
		defer ts.Close()

		u := "ws" + ts.URL[4:]
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// websocket.Dial sets Origin to the URL's host by default, mimicking a same-origin request
		conn, resp, err := websocket.Dial(ctx, u, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			t.Fatalf("Connection from same origin failed: %v", err)
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")

		optsBad := &websocket.DialOptions{
			HTTPHeader: http.Header{
				"Origin": []string{"http://external-site.com"},
			},
		}
		_, respBad, err := websocket.Dial(ctx, u, optsBad)
		if respBad != nil && respBad.Body != nil {
			_ = respBad.Body.Close()
		}
		if err == nil {
			t.Fatalf("Connection from external-site.com succeeded (should fail)")
		}
	})
}

func TestPrintMessageQueuesJob(t *testing.T) {
	srv := newTestServer(Config{QueueSize: 10})
	defer srv.Shutdown()
	conn := dialTestServer(t, srv)

	payload := json.RawMessage(`{"ops":[{"op":"init"},{"op":"text","text":"hola"}]}`)
	resp := roundTrip(t, conn, Message{Tipo: "print", ID: "job-1", Printer: "kasir_1", Datos: payload})

	if resp.Tipo != "ack" || resp.Status != "queued" {
		t.Fatalf("response = %+v; want queued ack", resp)
	}
	if resp.ID != "job-1" {
		t.Errorf("ack id = %q; want job-1", resp.ID)
	}
	if resp.Current != 1 {
		t.Errorf("queue current = %d; want 1", resp.Current)
	}

	select {
	case job := <-srv.JobQueue():
		if job.ID != "job-1" || job.PrinterID != "kasir_1" {
			t.Errorf("queued job = %+v", job)
		}
	default:
		t.Fatal("ack sent but no job in queue")
	}
}

func TestPrintMessageGeneratesJobID(t *testing.T) {
	srv := newTestServer(Config{QueueSize: 10})
	defer srv.Shutdown()
	conn := dialTestServer(t, srv)

	resp := roundTrip(t, conn, Message{
		Tipo:    "print",
		Printer: "kasir_1",
		Datos:   json.RawMessage(`{"ops":[{"op":"init"}]}`),
	})
	if resp.Tipo != "ack" {
		t.Fatalf("response = %+v; want ack", resp)
	}
	if resp.ID == "" {
		t.Error("server did not assign a job id")
	}
}

func TestPrintMessageValidation(t *testing.T) {
	srv := newTestServer(Config{QueueSize: 10})
	defer srv.Shutdown()

	tests := []struct {
		name string
		msg  Message
	}{
		{"missing printer", Message{Tipo: "print", Datos: json.RawMessage(`{}`)}},
		{"missing datos", Message{Tipo: "print", Printer: "kasir_1"}},
		{"unknown printer", Message{Tipo: "print", Printer: "ghost", Datos: json.RawMessage(`{}`)}},
		{"unknown type", Message{Tipo: "teleport"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dialTestServer(t, srv)
			resp := roundTrip(t, conn, tt.msg)
			if resp.Tipo != "error" {
				t.Errorf("response = %+v; want error", resp)
			}
		})
	}

	if n, _ := srv.QueueStatus(); n != 0 {
		t.Errorf("invalid messages left %d jobs in the queue", n)
	}
}

func TestQueueFullRejectsJob(t *testing.T) {
	srv := newTestServer(Config{QueueSize: 1})
	defer srv.Shutdown()
	conn := dialTestServer(t, srv)

	payload := json.RawMessage(`{"ops":[{"op":"init"}]}`)
	first := roundTrip(t, conn, Message{Tipo: "print", Printer: "kasir_1", Datos: payload})
	if first.Tipo != "ack" {
		t.Fatalf("first job not queued: %+v", first)
	}

	second := roundTrip(t, conn, Message{Tipo: "print", Printer: "kasir_1", Datos: payload})
	if second.Tipo != "error" {
		t.Fatalf("second job = %+v; want queue-full error", second)
	}
}

func TestJobRateLimit(t *testing.T) {
	srv := newTestServer(Config{QueueSize: 100, JobsPerMinute: 2})
	defer srv.Shutdown()
	conn := dialTestServer(t, srv)

	payload := json.RawMessage(`{"ops":[{"op":"init"}]}`)
	for i := 0; i < 2; i++ {
		resp := roundTrip(t, conn, Message{Tipo: "print", Printer: "kasir_1", Datos: payload})
		if resp.Tipo != "ack" {
			t.Fatalf("job %d rejected: %+v", i, resp)
		}
	}

	resp := roundTrip(t, conn, Message{Tipo: "print", Printer: "kasir_1", Datos: payload})
	if resp.Tipo != "error" {
		t.Fatalf("third job = %+v; want rate-limit error", resp)
	}
}

func TestStatusAndPing(t *testing.T) {
	srv := newTestServer(Config{QueueSize: 10})
	defer srv.Shutdown()
	conn := dialTestServer(t, srv)

	status := roundTrip(t, conn, Message{Tipo: "status"})
	if status.Tipo != "status" || status.Capacity != 10 {
		t.Errorf("status response = %+v", status)
	}

	pong := roundTrip(t, conn, Message{Tipo: "ping", ID: "p1"})
	if pong.Tipo != "pong" || pong.ID != "p1" {
		t.Errorf("ping response = %+v", pong)
	}
}

func TestGetPrinters(t *testing.T) {
	cache := health.NewCache(5 * time.Minute)
	cache.Write("kasir_1", health.StatusOnline, time.Now())
	srv := NewServer(Config{QueueSize: 10}, registry.NewInMemory(testPrinters()), cache)
	defer srv.Shutdown()
	conn := dialTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, Message{Tipo: "get_printers"}); err != nil {
		t.Fatal(err)
	}

	var resp struct {
		Tipo     string        `json:"tipo"`
		Status   string        `json:"status"`
		Printers []PrinterInfo `json:"printers"`
	}
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatal(err)
	}

	if resp.Tipo != "printers" || len(resp.Printers) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	p := resp.Printers[0]
	if p.ID != "kasir_1" || p.Backend != "192.168.1.21:9100" {
		t.Errorf("printer info = %+v", p)
	}
	if p.Health != "online" {
		t.Errorf("health = %q; want online (from cache)", p.Health)
	}
}
