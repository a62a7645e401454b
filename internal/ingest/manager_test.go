package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/your-org/facefinder/internal/models"
	"github.com/your-org/facefinder/internal/storage"
	"github.com/your-org/facefinder/pkg/dto"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*dto.IngestProgress
}

func (p *recordingPublisher) PublishProgress(_ context.Context, _ string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, data.(*dto.IngestProgress))
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// blockingExtractor holds every call until release is closed.
type blockingExtractor struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingExtractor) Extract(ctx context.Context, _ string, _ models.Model) ([]models.Detection, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return []models.Detection{{BBox: models.BoundingBox{W: 50, H: 50}, Confidence: 0.9, Embedding: []float32{1, 0, 0, 0}}}, nil
}

func TestManagerSerialisesRuns(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()
	touch(t, dir, "a.jpg")

	ex := &blockingExtractor{entered: make(chan struct{}), release: make(chan struct{})}
	p, _ := NewPipeline(storage.NewMemoryStore(reg), ex, reg, dir, []models.Model{models.ModelArcFace})
	pub := &recordingPublisher{}
	m := NewManager(p, pub)

	ctx := context.Background()
	if err := m.Start(ctx, "run-1"); err != nil {
		t.Fatal(err)
	}
	<-ex.entered

	if id, ok := m.Current(); !ok || id != "run-1" {
		t.Errorf("Current = %q, %v", id, ok)
	}
	if err := m.Start(ctx, "run-2"); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second Start err = %v, want ErrRunInProgress", err)
	}
	if err := m.HandleCommand(ctx, dto.IngestCommand{Action: ActionScan, RunID: "run-3"}); err != nil {
		t.Errorf("HandleCommand while busy = %v, want nil", err)
	}

	close(ex.release)
	m.Wait()

	if _, ok := m.Current(); ok {
		t.Error("run still marked current")
	}
	last := m.Last()
	if last == nil || last.Type != dto.ProgressCompleted || last.Summary == nil || last.Summary.Faces != 1 {
		t.Errorf("Last = %+v", last)
	}

	types := pub.types()
	if len(types) < 3 || types[0] != dto.ProgressStarted || types[len(types)-1] != dto.ProgressCompleted {
		t.Errorf("event types = %v", types)
	}
	rejected := false
	for _, typ := range types {
		if typ == dto.ProgressRejected {
			rejected = true
		}
	}
	if !rejected {
		t.Errorf("no rejected event in %v", types)
	}
}

func TestManagerRunAssignsID(t *testing.T) {
	reg := testRegistry(t)
	p, _ := NewPipeline(storage.NewMemoryStore(reg), &fakeExtractor{}, reg, t.TempDir(), []models.Model{models.ModelArcFace})
	m := NewManager(p, nil)

	report, err := m.Run(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if report.Selected != 0 {
		t.Errorf("Selected = %d", report.Selected)
	}
	if last := m.Last(); last == nil || last.RunID == "" {
		t.Errorf("Last = %+v, want generated run id", last)
	}
}

func TestHandleCommandUnknownAction(t *testing.T) {
	m := NewManager(nil, nil)
	if err := m.HandleCommand(context.Background(), dto.IngestCommand{Action: "purge"}); err == nil {
		t.Error("expected error")
	}
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"action":"scan","run_id":"r1"}`))
	if err != nil || cmd.Action != ActionScan || cmd.RunID != "r1" {
		t.Errorf("ParseCommand = %+v, %v", cmd, err)
	}
	if _, err := ParseCommand([]byte(`{`)); err == nil {
		t.Error("expected parse error")
	}
}
