package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/anishahaha07/myfi-scanner/internal/extract"
	"github.com/anishahaha07/myfi-scanner/internal/mail"
)

// ErrScanInProgress rejects a refresh request while a scan is running.
// Concurrent scans would double-count the call budget and race on the
// single persisted result.
var ErrScanInProgress = errors.New("scan already in progress")

const (
	// Idle/running states for the re-entrancy guard.
	stateIdle    int32 = 0
	stateRunning int32 = 1

	maxResults    = 20
	lookbackDays  = 30
	fetchDelay    = 100 * time.Millisecond
	fetchBackoff  = 5 * time.Second
	fetchRetries  = 3
	reauthMessage = "please re-authenticate"
)

// Pipeline processes one message into a record, or nil to drop it.
// Satisfied by *extract.Orchestrator.
type Pipeline interface {
	Process(ctx context.Context, msg *mail.RawMessage) *extract.Receipt

	// Reset clears per-batch state (the generative call budget).
	Reset()
}

// Coordinator drives a batch scan: list candidate messages, fetch each,
// run the extraction pipeline, and persist the full result in one
// write. Only one scan runs at a time.
type Coordinator struct {
	mailbox  mail.Mailbox
	pipeline Pipeline
	store    Store
	creds    Credentials
	clock    extract.TimeSource
	sleep    func(time.Duration)
	state    atomic.Int32
}

// NewCoordinator creates a Coordinator with the system clock.
func NewCoordinator(mailbox mail.Mailbox, pipeline Pipeline, store Store, creds Credentials) *Coordinator {
	return &Coordinator{
		mailbox:  mailbox,
		pipeline: pipeline,
		store:    store,
		creds:    creds,
		clock:    extract.SystemTime{},
		sleep:    time.Sleep,
	}
}

// Refresh starts a scan in the background and acknowledges immediately.
// Completion is observed by polling the persisted result for a fresh
// timestamp. Returns ErrScanInProgress when a scan is already running.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if !c.state.CompareAndSwap(stateIdle, stateRunning) {
		return ErrScanInProgress
	}
	// The trigger is an HTTP request whose context is cancelled as soon
	// as the ack is written; the scan must not die with it.
	scanCtx := context.WithoutCancel(ctx)
	go func() {
		defer c.state.Store(stateIdle)
		c.runScan(scanCtx)
	}()
	return nil
}

// Scan runs one batch synchronously. Returns ErrScanInProgress when a
// background scan is already running.
func (c *Coordinator) Scan(ctx context.Context) error {
	if !c.state.CompareAndSwap(stateIdle, stateRunning) {
		return ErrScanInProgress
	}
	defer c.state.Store(stateIdle)
	c.runScan(ctx)
	return nil
}

// Running reports whether a scan is in flight.
func (c *Coordinator) Running() bool {
	return c.state.Load() == stateRunning
}

// runScan executes the batch with one silent credential refresh-and-
// retry on an authentication failure, then persists the outcome. The
// record list is built fully in memory and committed in one write.
func (c *Coordinator) runScan(ctx context.Context) {
	result, authErr := c.runBatch(ctx)
	if authErr != nil {
		slog.Warn("Authentication failed, refreshing credential and retrying batch", "error", authErr)
		if err := c.creds.Refresh(ctx); err != nil {
			result = c.failedResult(reauthMessage)
		} else {
			result, authErr = c.runBatch(ctx)
			if authErr != nil {
				result = c.failedResult(reauthMessage)
			}
		}
	}

	if err := c.store.SaveResult(result); err != nil {
		slog.Error("Failed to persist scan result", "error", err)
		return
	}
	if err := c.store.SetErrorFlag(result.Error); err != nil {
		slog.Error("Failed to persist error flag", "error", err)
	}
	slog.Info("Scan complete", "records", len(result.Records), "error", result.Error)
}

// runBatch runs one pass over the mailbox. An authentication failure is
// returned to the caller for the batch-level retry; any other listing
// failure becomes the batch's error result.
func (c *Coordinator) runBatch(ctx context.Context) (*ScanResult, error) {
	c.pipeline.Reset()
	ids, err := c.mailbox.List(ctx, c.buildQuery(), maxResults)
	if err != nil {
		if errors.Is(err, mail.ErrUnauthorized) {
			return nil, err
		}
		slog.Error("Listing messages failed", "error", err)
		return c.failedResult(err.Error()), nil
	}
	slog.Info("Scanning messages", "count", len(ids))

	records := make([]extract.Receipt, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			c.sleep(fetchDelay)
		}
		msg, err := c.fetchWithRetry(ctx, id)
		if err != nil {
			if errors.Is(err, mail.ErrUnauthorized) {
				return nil, err
			}
			slog.Warn("Skipping message", "id", id, "error", err)
			continue
		}
		if rec := c.pipeline.Process(ctx, msg); rec != nil {
			records = append(records, *rec)
		}
	}

	return &ScanResult{Records: records, ScannedAt: c.clock.Now()}, nil
}

// fetchWithRetry re-issues a rate-limited fetch after a fixed wait, up
// to the retry cap.
func (c *Coordinator) fetchWithRetry(ctx context.Context, id string) (*mail.RawMessage, error) {
	for attempt := 1; ; attempt++ {
		msg, err := c.mailbox.Fetch(ctx, id)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, mail.ErrRateLimited) || attempt >= fetchRetries {
			return nil, err
		}
		slog.Info("Fetch rate limited, waiting", "id", id, "attempt", attempt)
		c.sleep(fetchBackoff)
	}
}

// failedResult is a batch-level failure: the record list is left empty
// rather than partially populated, so the dashboard never mixes old and
// failed state.
func (c *Coordinator) failedResult(msg string) *ScanResult {
	return &ScanResult{
		Records:   []extract.Receipt{},
		ScannedAt: c.clock.Now(),
		Error:     msg,
	}
}

// buildQuery assembles the inbox search expression: transactional
// subject terms or known merchant senders, within the lookback window.
func (c *Coordinator) buildQuery() string {
	after := c.clock.Now().AddDate(0, 0, -lookbackDays).Format("2006-01-02")
	senders := []string{
		"amazon.com", "swiggy.in", "zomato.com", "uber.com", "flipkart.com",
		"ola.com", "blinkit.com", "myntra.com", "ajio.com",
	}
	return fmt.Sprintf(
		"subject:(receipt OR order OR invoice OR confirmation) OR from:(%s) after:%s",
		strings.Join(senders, " OR "), after,
	)
}
