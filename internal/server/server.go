package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/adcondev/printer-proxy/internal/config"
	"github.com/adcondev/printer-proxy/internal/health"
)

// PrinterDirectory is the registry view the server needs: enumeration for
// get_printers and existence checks before queueing.
type PrinterDirectory interface {
	Lookup(id string) (config.Printer, error)
	ListAll() []config.Printer
}

// Config holds server configuration. Leaving AllowedOrigins empty enforces
// same-origin on WebSocket upgrades.
type Config struct {
	QueueSize      int
	JobsPerMinute  int
	AllowedOrigins []string
}

// PrintJob represents a queued print request
type PrintJob struct {
	ID         string          `json:"id"`
	PrinterID  string          `json:"printer"`
	ClientConn *websocket.Conn `json:"-"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Message represents incoming WebSocket message
type Message struct {
	Tipo    string          `json:"tipo"`
	ID      string          `json:"id,omitempty"`
	Printer string          `json:"printer,omitempty"`
	Datos   json.RawMessage `json:"datos,omitempty"`
}

// Response represents outgoing WebSocket message
type Response struct {
	Tipo     string `json:"tipo"`
	ID       string `json:"id,omitempty"`
	Printer  string `json:"printer,omitempty"`
	Status   string `json:"status,omitempty"`
	Mensaje  string `json:"mensaje,omitempty"`
	Current  int    `json:"current,omitempty"`
	Capacity int    `json:"capacity,omitempty"`
}

// Server manages WebSocket connections and the print job queue
type Server struct {
	clients      *ClientRegistry
	jobQueue     chan *PrintJob
	rateLimiter  *JobRateLimiter
	directory    PrinterDirectory
	healthCache  *health.Cache
	origins      []string
	shutdownOnce sync.Once
	shutdownChan chan struct{}
}

// NewServer creates a new WebSocket server
func NewServer(cfg Config, directory PrinterDirectory, healthCache *health.Cache) *Server {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.JobsPerMinute <= 0 {
		cfg.JobsPerMinute = 60
	}

	return &Server{
		clients:      NewClientRegistry(),
		jobQueue:     make(chan *PrintJob, cfg.QueueSize),
		rateLimiter:  NewJobRateLimiter(cfg.JobsPerMinute),
		directory:    directory,
		healthCache:  healthCache,
		origins:      cfg.AllowedOrigins,
		shutdownChan: make(chan struct{}),
	}
}

// QueueStatus returns current and max queue size
func (s *Server) QueueStatus() (current, capacity int) {
	return len(s.jobQueue), cap(s.jobQueue)
}

// ClientCount returns the number of connected WebSocket clients
func (s *Server) ClientCount() int {
	return s.clients.Count()
}

// JobQueue returns the job queue channel (for worker consumption)
func (s *Server) JobQueue() <-chan *PrintJob {
	return s.jobQueue
}

// HandleWebSocket handles WebSocket connections
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		log.Printf("[WS] ❌ Error accepting client: %v", err)
		return
	}

	s.clients.Add(conn, r.RemoteAddr)
	log.Printf("[WS] ➕ Client connected (total: %d) from %s", s.clients.Count(), r.RemoteAddr)

	ctx := r.Context()
	welcome := Response{
		Tipo:    "info",
		Status:  "connected",
		Mensaje: "✅ Printer proxy listo para recibir trabajos",
	}
	_ = wsjson.Write(ctx, conn, welcome)

	s.handleMessages(ctx, conn, r.RemoteAddr)

	s.clients.Remove(conn)
	s.rateLimiter.Forget(r.RemoteAddr)
	_ = conn.Close(websocket.StatusNormalClosure, "disconnected")
	log.Printf("[WS] ➖ Client disconnected (remaining: %d)", s.clients.Count())
}

// handleMessages processes incoming messages from a client
func (s *Server) handleMessages(ctx context.Context, conn *websocket.Conn, remoteAddr string) {
	for {
		select {
		case <-s.shutdownChan:
			return
		default:
		}

		var msg Message
		err := wsjson.Read(ctx, conn, &msg)
		if err != nil {
			// Normal closure or context cancelled
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				ctx.Err() != nil {
				return
			}
			log.Printf("[WS] ⚠️ Error reading message: %v", err)
			return
		}

		s.routeMessage(ctx, conn, remoteAddr, &msg)
	}
}

// routeMessage routes message to appropriate handler
func (s *Server) routeMessage(ctx context.Context, conn *websocket.Conn, remoteAddr string, msg *Message) {
	switch msg.Tipo {
	case "print":
		s.handlePrint(ctx, conn, remoteAddr, msg)
	case "status":
		s.handleStatus(ctx, conn)
	case "ping":
		s.handlePing(ctx, conn, msg)
	case "get_printers":
		s.handleGetPrinters(ctx, conn)
	default:
		log.Printf("[WS] ⚠️ Unknown message type: %s", msg.Tipo)
		s.sendError(ctx, conn, msg.ID, "Unknown message type: "+msg.Tipo)
	}
}

// handlePrint validates and queues a print job request
func (s *Server) handlePrint(ctx context.Context, conn *websocket.Conn, remoteAddr string, msg *Message) {
	jobID := msg.ID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	if msg.Printer == "" {
		log.Printf("[QUEUE] ❌ Job %s rejected: missing 'printer' field", jobID)
		s.sendError(ctx, conn, jobID, "Field 'printer' is required for type 'print'")
		return
	}
	if len(msg.Datos) == 0 {
		log.Printf("[QUEUE] ❌ Job %s rejected: missing 'datos' field", jobID)
		s.sendError(ctx, conn, jobID, "Field 'datos' is required for type 'print'")
		return
	}

	// Reject unknown printers before they occupy queue space
	if _, err := s.directory.Lookup(msg.Printer); err != nil {
		log.Printf("[QUEUE] ❌ Job %s rejected: unknown printer '%s'", jobID, msg.Printer)
		s.sendError(ctx, conn, jobID, "Printer '"+msg.Printer+"' not found")
		return
	}

	if !s.rateLimiter.Allow(remoteAddr) {
		log.Printf("[QUEUE] 🚫 Job %s rejected: rate limit for %s", jobID, remoteAddr)
		s.sendError(ctx, conn, jobID, "Rate limit exceeded, slow down")
		return
	}

	job := &PrintJob{
		ID:         jobID,
		PrinterID:  msg.Printer,
		ClientConn: conn,
		Payload:    msg.Datos,
		ReceivedAt: time.Now(),
	}

	// Try to enqueue (non-blocking)
	select {
	case s.jobQueue <- job:
		current, capacity := s.QueueStatus()
		log.Printf("[QUEUE] 📥 Job queued: %s -> %s (queue: %d/%d)", jobID, msg.Printer, current, capacity)

		response := Response{
			Tipo:     "ack",
			ID:       jobID,
			Printer:  msg.Printer,
			Status:   "queued",
			Current:  current,
			Capacity: capacity,
			Mensaje:  "Job queued for printing",
		}
		_ = wsjson.Write(ctx, conn, response)

	default:
		current, capacity := s.QueueStatus()
		log.Printf("[QUEUE] 🚫 Queue full, rejecting job: %s (%d/%d)", jobID, current, capacity)
		s.sendError(ctx, conn, jobID, "Queue full, please retry in a few seconds")
	}
}

// handleStatus sends queue status
func (s *Server) handleStatus(ctx context.Context, conn *websocket.Conn) {
	current, capacity := s.QueueStatus()

	response := Response{
		Tipo:     "status",
		Status:   "ok",
		Current:  current,
		Capacity: capacity,
		Mensaje:  formatStatus(current, capacity),
	}
	_ = wsjson.Write(ctx, conn, response)
}

// handlePing responds to ping
func (s *Server) handlePing(ctx context.Context, conn *websocket.Conn, msg *Message) {
	response := Response{
		Tipo:   "pong",
		ID:     msg.ID,
		Status: "ok",
	}
	_ = wsjson.Write(ctx, conn, response)
}

// PrinterInfo is the get_printers wire representation of one printer.
type PrinterInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Backend    string `json:"backend"`
	Health     string `json:"health"`
	ObservedAt string `json:"observed_at,omitempty"`
}

// handleGetPrinters lists configured printers with their last known health.
// Health comes from the cache only; enumeration never probes.
func (s *Server) handleGetPrinters(ctx context.Context, conn *websocket.Conn) {
	printers := s.directory.ListAll()

	infos := make([]PrinterInfo, len(printers))
	for i, p := range printers {
		info := PrinterInfo{
			ID:      p.ID,
			Name:    p.Name,
			Backend: p.Backend.Addr(),
			Health:  "unknown",
		}
		if rec, ok := s.healthCache.Read(p.ID); ok {
			info.Health = rec.Status.String()
			info.ObservedAt = rec.ObservedAt.Format(time.RFC3339)
		}
		infos[i] = info
	}

	response := struct {
		Tipo     string        `json:"tipo"`
		Status   string        `json:"status"`
		Printers []PrinterInfo `json:"printers"`
	}{
		Tipo:     "printers",
		Status:   "ok",
		Printers: infos,
	}
	_ = wsjson.Write(ctx, conn, response)
}

// sendError sends error response to client
func (s *Server) sendError(ctx context.Context, conn *websocket.Conn, id, mensaje string) {
	response := Response{
		Tipo:    "error",
		ID:      id,
		Status:  "error",
		Mensaje: mensaje,
	}
	_ = wsjson.Write(ctx, conn, response)
}

// NotifyClient sends a result back to a specific client
func (s *Server) NotifyClient(conn *websocket.Conn, response Response) error {
	if conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return wsjson.Write(ctx, conn, response)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)

		clientCount := s.clients.Count()
		log.Printf("[WS] 🛑 Shutting down, disconnecting %d clients", clientCount)

		s.clients.ForEach(func(conn *websocket.Conn) {
			_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		})
	})
}

func formatStatus(current, capacity int) string {
	return "Queue: " + strconv.Itoa(current) + "/" + strconv.Itoa(capacity)
}
