// Package worker drains the WebSocket job queue into the dispatcher.
package worker

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/adcondev/printer-proxy/internal/dispatch"
	"github.com/adcondev/printer-proxy/internal/escpos"
	"github.com/adcondev/printer-proxy/internal/server"
	workererrors "github.com/adcondev/printer-proxy/internal/worker/errors"
)

// Config holds worker configuration
type Config struct {
	// JobTimeout bounds one job end to end: parse, health gate, and send.
	JobTimeout time.Duration
}

// ClientNotifier interface for sending results back to clients
type ClientNotifier interface {
	NotifyClient(conn *websocket.Conn, response server.Response) error
}

// Worker consumes print jobs from the queue and pushes them through the
// dispatcher one at a time. Queue order is printer submission order.
type Worker struct {
	jobQueue      <-chan *server.PrintJob
	notifier      ClientNotifier
	dispatcher    *dispatch.Dispatcher
	config        Config
	stopChan      chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	isRunning     bool
	jobsProcessed int64
	jobsFailed    int64
	lastJobTime   time.Time
}

// NewWorker creates a new print worker
func NewWorker(jobQueue <-chan *server.PrintJob, notifier ClientNotifier, dispatcher *dispatch.Dispatcher, config Config) *Worker {
	if config.JobTimeout <= 0 {
		config.JobTimeout = 45 * time.Second
	}
	return &Worker{
		jobQueue:   jobQueue,
		notifier:   notifier,
		dispatcher: dispatcher,
		config:     config,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the worker goroutine
func (w *Worker) Start() {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run()

	log.Println("[WORKER] ✅ Print worker started and ready")
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()

	log.Printf("[WORKER] 🛑 Print worker stopped (processed: %d, failed: %d)", w.jobsProcessed, w.jobsFailed)
}

// run is the main worker loop
func (w *Worker) run() {
	defer w.wg.Done()

	log.Println("[WORKER] 👂 Waiting for print jobs...")

	for {
		select {
		case <-w.stopChan:
			log.Println("[WORKER] 📴 Received stop signal")
			return

		case job, ok := <-w.jobQueue:
			if !ok {
				log.Println("[WORKER] 📴 Job channel closed, exiting")
				return
			}
			w.processJob(job)
		}
	}
}

// processJob handles a single print job
func (w *Worker) processJob(job *server.PrintJob) {
	startTime := time.Now()
	log.Printf("[WORKER] 🔄 Processing job: %s -> %s", job.ID, job.PrinterID)

	err := w.executePrint(job)

	duration := time.Since(startTime)
	w.mu.Lock()
	w.lastJobTime = time.Now()
	if err != nil {
		w.jobsFailed++
	} else {
		w.jobsProcessed++
	}
	w.mu.Unlock()

	var response server.Response
	if err != nil {
		// Full error goes to the log, the client gets the friendly form
		log.Printf("[WORKER] ❌ Job %s FAILED after %v: %v", job.ID, duration, err)

		response = server.Response{
			Tipo:    "result",
			ID:      job.ID,
			Printer: job.PrinterID,
			Status:  "error",
			Mensaje: workererrors.ExtractUserFriendlyError(err),
		}
	} else {
		log.Printf("[WORKER] ✅ Job %s completed in %v", job.ID, duration)
		response = server.Response{
			Tipo:    "result",
			ID:      job.ID,
			Printer: job.PrinterID,
			Status:  "success",
			Mensaje: fmt.Sprintf("Print completed in %v", duration.Round(time.Millisecond)),
		}
	}

	// Notify client (async to not block worker loop)
	if job.ClientConn != nil && w.notifier != nil {
		go func() {
			if err := w.notifier.NotifyClient(job.ClientConn, response); err != nil {
				log.Printf("[WORKER] ⚠️ Failed to notify client for job %s: %v", job.ID, err)
			}
		}()
	}
}

// executePrint parses the payload and dispatches it to the printer
func (w *Worker) executePrint(job *server.PrintJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic recovered in executePrint: %v", r)
			log.Printf("[WORKER] 💥 Panic in job %s: %v\nStack: %s",
				job.ID, r, debug.Stack())
		}
	}()

	doc, err := escpos.ParseJob(job.Payload)
	if err != nil {
		return fmt.Errorf("parsing print job: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.config.JobTimeout)
	defer cancel()

	if err := w.dispatcher.Dispatch(ctx, job.PrinterID, doc); err != nil {
		return fmt.Errorf("dispatching job: %w", err)
	}
	return nil
}

// Stats returns current worker statistics
func (w *Worker) Stats() Statistics {
	w.mu.Lock()
	defer w.mu.Unlock()

	return Statistics{
		IsRunning:     w.isRunning,
		JobsProcessed: w.jobsProcessed,
		JobsFailed:    w.jobsFailed,
		LastJobTime:   w.lastJobTime,
	}
}

// Statistics holds worker runtime statistics
type Statistics struct {
	IsRunning     bool      `json:"is_running"`
	JobsProcessed int64     `json:"jobs_processed"`
	JobsFailed    int64     `json:"jobs_failed"`
	LastJobTime   time.Time `json:"last_job_time,omitempty"`
}
