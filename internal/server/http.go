package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/adcondev/printer-proxy/internal/auth"
	"github.com/adcondev/printer-proxy/internal/config"
	"github.com/adcondev/printer-proxy/internal/dispatch"
	"github.com/adcondev/printer-proxy/internal/escpos"
	"github.com/adcondev/printer-proxy/internal/health"
	"github.com/adcondev/printer-proxy/internal/registry"
)

// The ePOS-Print protocol expects these exact envelopes regardless of what
// went wrong, so browser clients keep working.
const (
	xmlSuccessBody = `<?xml version="1.0"?><response success="true" code="0"/>`
	xmlErrorBody   = `<?xml version="1.0"?><response success="false" code="1"/>`

	maxPrintBody = 4 << 20 // 4 MiB, enough for full-width raster receipts
)

// Handlers serves the HTTP surface: print submission, printer health, and
// admin CRUD. Service-level health lives in the daemon, which owns the
// queue and worker state.
type Handlers struct {
	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry
	auth       *auth.Manager
}

// NewHandlers wires the HTTP surface over the dispatcher and registry.
func NewHandlers(d *dispatch.Dispatcher, reg *registry.Registry, am *auth.Manager) *Handlers {
	return &Handlers{
		dispatcher: d,
		registry:   reg,
		auth:       am,
	}
}

// Register attaches all routes to mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/print/{printer_id}", h.HandlePrint)
	// ePOS-compatible alias used by Epson web SDKs
	mux.HandleFunc("/{printer_id}/cgi-bin/epos/service.cgi", h.HandleEpos)

	mux.HandleFunc("GET /health/printers", h.HandlePrintersHealth)
	mux.HandleFunc("GET /health/printer/{printer_id}", h.HandlePrinterHealth)

	mux.HandleFunc("GET /api/printers", h.HandleListPrinters)
	mux.HandleFunc("POST /api/printers", h.HandleCreatePrinter)
	mux.HandleFunc("GET /api/printers/reload", h.HandleReloadPrinters)
	mux.HandleFunc("GET /api/printers/{printer_id}", h.HandleGetPrinter)
	mux.HandleFunc("PUT /api/printers/{printer_id}", h.HandleUpdatePrinter)
	mux.HandleFunc("DELETE /api/printers/{printer_id}", h.HandleDeletePrinter)
}

// HandlePrint accepts a print job over plain HTTP. The body format is chosen
// by Content-Type: JSON job, raw ESC/POS passthrough, or ePOS SOAP XML.
// Responses are JSON except in SOAP mode, which gets the XML envelope.
func (h *Handlers) HandlePrint(w http.ResponseWriter, r *http.Request) {
	h.servePrint(w, r, r.PathValue("printer_id"), false)
}

// HandleEpos is the ePOS-compatible endpoint. Every outcome is reported with
// the XML envelope and CORS headers, matching what ePOS SDKs expect.
func (h *Handlers) HandleEpos(w http.ResponseWriter, r *http.Request) {
	h.servePrint(w, r, r.PathValue("printer_id"), true)
}

func (h *Handlers) servePrint(w http.ResponseWriter, r *http.Request, printerID string, eposMode bool) {
	log.Printf("[HTTP] 📥 %s /print %s (ct=%s)", r.Method, printerID, r.Header.Get("Content-Type"))

	if r.Method == http.MethodOptions {
		writeCORSHeaders(w)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		h.printError(w, eposMode, http.StatusMethodNotAllowed, "use POST or PUT to submit print data")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPrintBody))
	if err != nil {
		h.printError(w, eposMode, http.StatusBadRequest, "error reading request body")
		return
	}

	doc, mode, err := parsePrintBody(r, body)
	if err != nil {
		log.Printf("[HTTP] ❌ Bad payload for '%s': %v", printerID, err)
		h.printError(w, eposMode, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), printerID, doc); err != nil {
		log.Printf("[HTTP] ❌ Dispatch '%s' failed: %v", printerID, err)
		h.printError(w, eposMode, statusForRejection(err), err.Error())
		return
	}

	log.Printf("[HTTP] ✅ Job sent to '%s' (%s mode)", printerID, mode)
	if eposMode || mode == "epos" {
		writeCORSHeaders(w)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, xmlSuccessBody)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"printer": printerID,
		"mode":    mode,
	})
}

// parsePrintBody selects the document parser by Content-Type and returns the
// mode name for logging.
func parsePrintBody(r *http.Request, body []byte) (escpos.Document, string, error) {
	ct := strings.ToLower(r.Header.Get("Content-Type"))

	// Mode A: ePOS SOAP XML
	if strings.HasPrefix(ct, "text/plain") ||
		strings.HasPrefix(ct, "text/xml") ||
		strings.HasPrefix(ct, "application/xml") {
		doc, err := escpos.ParseEpos(body, eposOverrides(r))
		return doc, "epos", err
	}

	// Mode B: raw ESC/POS passthrough
	if strings.HasPrefix(ct, "application/octet-stream") ||
		strings.EqualFold(r.Header.Get("X-ESC-POS-Mode"), "raw") {
		if len(body) == 0 {
			return nil, "raw", fmt.Errorf("empty body for raw mode")
		}
		return escpos.Document{escpos.RawBytes{Data: body}}, "raw", nil
	}

	// Mode C: JSON job
	if strings.HasPrefix(ct, "application/json") {
		doc, err := escpos.ParseJob(body)
		return doc, "json", err
	}

	return nil, "", fmt.Errorf("unsupported content type %q: use text/xml (ePOS), application/octet-stream (raw), or application/json (job)", ct)
}

// eposOverrides reads optional raster transforms from query parameters or
// X-ESCPOS-* headers. Absent values leave the document's own settings alone.
func eposOverrides(r *http.Request) escpos.EposOverrides {
	var ov escpos.EposOverrides

	if v := r.URL.Query().Get("invert"); v != "" {
		b := escpos.ParseBool(v)
		ov.Invert = &b
	} else if v := r.Header.Get("X-ESCPOS-Invert"); v != "" {
		b := escpos.ParseBool(v)
		ov.Invert = &b
	}

	if v := r.URL.Query().Get("bit"); v != "" {
		o := escpos.ParseBitOrder(v)
		ov.BitOrder = &o
	} else if v := r.Header.Get("X-ESCPOS-Bit-Order"); v != "" {
		o := escpos.ParseBitOrder(v)
		ov.BitOrder = &o
	}

	return ov
}

func (h *Handlers) printError(w http.ResponseWriter, eposMode bool, status int, msg string) {
	if eposMode {
		writeCORSHeaders(w)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, xmlErrorBody)
		return
	}
	writeJSON(w, status, map[string]any{"status": "error", "error": msg})
}

// statusForRejection maps dispatcher rejection reasons onto HTTP status codes.
func statusForRejection(err error) int {
	reason, ok := dispatch.ReasonOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch reason {
	case dispatch.ReasonNotFound:
		return http.StatusNotFound
	case dispatch.ReasonOffline, dispatch.ReasonPoolExhausted:
		return http.StatusServiceUnavailable
	case dispatch.ReasonEncoding:
		return http.StatusBadRequest
	case dispatch.ReasonTransport:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type printerHealthJSON struct {
	Status     string `json:"status"`
	ObservedAt string `json:"observed_at"`
}

// HandlePrintersHealth probes every configured printer concurrently and
// reports an aggregate verdict.
func (h *Handlers) HandlePrintersHealth(w http.ResponseWriter, r *http.Request) {
	log.Println("[HTTP] 🏥 Bulk printer health check")
	records := h.dispatcher.HealthOfAll(r.Context())

	results := make(map[string]printerHealthJSON, len(records))
	online := 0
	for id, rec := range records {
		if rec.Status == health.StatusOnline {
			online++
		}
		results[id] = printerHealthJSON{
			Status:     rec.Status.String(),
			ObservedAt: rec.ObservedAt.Format(time.RFC3339),
		}
	}

	overall := "healthy"
	if online < len(records) {
		overall = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    overall,
		"timestamp": time.Now().Format(time.RFC3339),
		"summary": map[string]int{
			"total":   len(records),
			"online":  online,
			"offline": len(records) - online,
		},
		"printers": results,
	})
}

// HandlePrinterHealth reports one printer's health, probing if the cached
// record has gone stale.
func (h *Handlers) HandlePrinterHealth(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("printer_id")

	rec, err := h.dispatcher.HealthOf(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"status": "error",
			"error":  fmt.Sprintf("printer %q not found", id),
		})
		return
	}

	// The printer can be deleted between the health check and this lookup.
	printer, err := h.registry.Lookup(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"status": "error",
			"error":  fmt.Sprintf("printer %q not found", id),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"printer_id":  id,
		"status":      rec.Status.String(),
		"backend":     printer.Backend,
		"observed_at": rec.ObservedAt.Format(time.RFC3339),
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}

// authorize gates admin endpoints. Returns false after writing the 401.
func (h *Handlers) authorize(w http.ResponseWriter, r *http.Request) bool {
	if h.auth.Authorize(r, clientIP(r)) {
		return true
	}
	log.Printf("[AUDIT] 🚫 Unauthorized admin request from %s: %s %s", clientIP(r), r.Method, r.URL.Path)
	writeJSON(w, http.StatusUnauthorized, map[string]any{
		"status": "error",
		"error":  "unauthorized",
	})
	return false
}

// HandleListPrinters lists all registered printers.
func (h *Handlers) HandleListPrinters(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	printers := h.registry.ListAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"printers": printers,
		"total":    len(printers),
	})
}

// HandleGetPrinter returns one printer config.
func (h *Handlers) HandleGetPrinter(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	id := r.PathValue("printer_id")
	printer, err := h.registry.Lookup(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"status": "error",
			"error":  fmt.Sprintf("printer %q not found", id),
		})
		return
	}
	writeJSON(w, http.StatusOK, printer)
}

// HandleCreatePrinter registers a new printer and persists the registry.
func (h *Handlers) HandleCreatePrinter(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	printer, ok := decodePrinter(w, r)
	if !ok {
		return
	}

	if err := h.registry.Create(printer); err != nil {
		if errors.Is(err, registry.ErrExists) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"status": "error",
				"error":  fmt.Sprintf("printer %q already exists", printer.ID),
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	log.Printf("[ADMIN] ➕ Printer '%s' created (%s)", printer.ID, printer.Backend.Addr())
	writeJSON(w, http.StatusCreated, printer)
}

// HandleUpdatePrinter modifies an existing printer. Fields absent from the
// body keep their current value.
func (h *Handlers) HandleUpdatePrinter(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	id := r.PathValue("printer_id")
	var patch struct {
		Name    *string         `json:"name"`
		Backend *config.Backend `json:"backend"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status": "error",
			"error":  "invalid printer JSON: " + err.Error(),
		})
		return
	}

	printer, err := h.registry.Update(id, patch.Name, patch.Backend)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"status": "error",
				"error":  fmt.Sprintf("printer %q not found", id),
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	log.Printf("[ADMIN] ✏️ Printer '%s' updated (%s)", id, printer.Backend.Addr())
	writeJSON(w, http.StatusOK, printer)
}

// HandleDeletePrinter removes a printer from the registry.
func (h *Handlers) HandleDeletePrinter(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	id := r.PathValue("printer_id")
	if err := h.registry.Delete(id); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"status": "error",
				"error":  fmt.Sprintf("printer %q not found", id),
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	log.Printf("[ADMIN] ➖ Printer '%s' deleted", id)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "deleted",
		"printer_id": id,
	})
}

// HandleReloadPrinters re-reads printers.yaml and swaps the registry.
func (h *Handlers) HandleReloadPrinters(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	if err := h.registry.Reload(); err != nil {
		log.Printf("[ADMIN] ❌ Reload failed, keeping previous registry: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	log.Printf("[ADMIN] 🔄 Registry reloaded (%d printers)", h.registry.Len())
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "reloaded",
		"total":  h.registry.Len(),
	})
}

func decodePrinter(w http.ResponseWriter, r *http.Request) (config.Printer, bool) {
	var printer config.Printer
	if err := json.NewDecoder(r.Body).Decode(&printer); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status": "error",
			"error":  "invalid printer JSON: " + err.Error(),
		})
		return printer, false
	}
	return printer, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/xml")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
