package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facefinder/internal/observability"
	"github.com/your-org/facefinder/pkg/dto"
)

const ActionScan = "scan"

// ErrRunInProgress is returned when a run is requested while another one is
// still going.
var ErrRunInProgress = errors.New("ingestion run already in progress")

// ProgressPublisher fans progress events out to other processes.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, runID string, data any) error
}

// Manager serialises ingestion runs for the ingestor daemon. Runs may be
// requested over NATS, by interval, or directly.
type Manager struct {
	pipeline  *Pipeline
	publisher ProgressPublisher

	mu      sync.Mutex
	current string
	last    *dto.IngestProgress
	wg      sync.WaitGroup
}

// NewManager returns a manager. publisher may be nil.
func NewManager(pipeline *Pipeline, publisher ProgressPublisher) *Manager {
	return &Manager{pipeline: pipeline, publisher: publisher}
}

// HandleCommand processes an ingestion control command.
func (m *Manager) HandleCommand(ctx context.Context, cmd dto.IngestCommand) error {
	switch cmd.Action {
	case ActionScan:
		err := m.Start(ctx, cmd.RunID)
		if errors.Is(err, ErrRunInProgress) {
			m.publish(cmd.RunID, dto.ProgressRejected, err.Error(), nil)
			return nil
		}
		return err
	default:
		return fmt.Errorf("unknown action: %s", cmd.Action)
	}
}

// Start launches a run in the background and returns immediately.
func (m *Manager) Start(ctx context.Context, runID string) error {
	runID, err := m.acquire(runID)
	if err != nil {
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_, _ = m.run(ctx, runID)
	}()
	return nil
}

// Run executes a run synchronously.
func (m *Manager) Run(ctx context.Context, runID string) (*Report, error) {
	runID, err := m.acquire(runID)
	if err != nil {
		return nil, err
	}
	return m.run(ctx, runID)
}

// StartInterval requests a run every interval until ctx is done. Ticks that
// land while a run is going are skipped.
func (m *Manager) StartInterval(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Start(ctx, ""); err != nil && !errors.Is(err, ErrRunInProgress) {
					slog.Error("scheduled ingestion", "error", err)
				}
			}
		}
	}()
}

// Current returns the ID of the run in progress, if any.
func (m *Manager) Current() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != ""
}

// Last returns the final event of the most recent finished run.
func (m *Manager) Last() *dto.IngestProgress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Wait blocks until background runs have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) acquire(runID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != "" {
		return "", fmt.Errorf("%w: %s", ErrRunInProgress, m.current)
	}
	if runID == "" {
		runID = uuid.New().String()
	}
	m.current = runID
	return runID, nil
}

func (m *Manager) run(ctx context.Context, runID string) (*Report, error) {
	observability.IngestRunning.Set(1)
	defer observability.IngestRunning.Set(0)

	slog.Info("ingestion run started", "run_id", runID)
	m.publish(runID, dto.ProgressStarted, "", nil)

	started := time.Now()
	report, err := m.pipeline.Run(ctx, func(msg string) {
		slog.Debug("ingestion progress", "run_id", runID, "message", msg)
		m.publish(runID, dto.ProgressMessage, msg, nil)
	})

	var final *dto.IngestProgress
	if err != nil {
		slog.Error("ingestion run failed", "run_id", runID, "error", err)
		final = m.publish(runID, dto.ProgressFailed, err.Error(), Stats(report))
	} else {
		slog.Info("ingestion run finished",
			"run_id", runID,
			"selected", report.Selected,
			"processed", report.Processed,
			"faces", report.FacesInserted(),
			"failed_units", report.Count(StatusFailed),
			"duration", time.Since(started),
		)
		final = m.publish(runID, dto.ProgressCompleted, "", Stats(report))
	}

	m.mu.Lock()
	m.current = ""
	m.last = final
	m.mu.Unlock()

	return report, err
}

func (m *Manager) publish(runID, typ, msg string, stats *dto.IngestStats) *dto.IngestProgress {
	ev := &dto.IngestProgress{
		RunID:     runID,
		Type:      typ,
		Message:   msg,
		Summary:   stats,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if m.publisher == nil {
		return ev
	}
	// Progress is best effort and must not be cut short by the run's own
	// cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.publisher.PublishProgress(ctx, runID, ev); err != nil {
		slog.Warn("publish ingestion progress", "run_id", runID, "error", err)
	}
	return ev
}

// Stats summarises a report for the wire. A nil report yields nil.
func Stats(r *Report) *dto.IngestStats {
	if r == nil {
		return nil
	}
	return &dto.IngestStats{
		Selected:  r.Selected,
		Processed: r.Processed,
		Faces:     r.FacesInserted(),
		Succeeded: r.Count(StatusSuccess),
		NoFace:    r.Count(StatusSkippedNoFace),
		Failed:    r.Count(StatusFailed),
	}
}

// ParseCommand parses a NATS message into an IngestCommand.
func ParseCommand(data []byte) (dto.IngestCommand, error) {
	var cmd dto.IngestCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("parse command: %w", err)
	}
	return cmd, nil
}
