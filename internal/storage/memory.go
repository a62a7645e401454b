package storage

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/your-org/facefinder/internal/models"
)

// MemoryStore is an in-process face repository that ranks by exact scan.
// Used by facectl for dry runs and by tests.
type MemoryStore struct {
	reg *models.Registry

	mu     sync.RWMutex
	faces  []models.FaceRecord
	users  []models.User
	nextID int64
	now    func() time.Time
}

func NewMemoryStore(reg *models.Registry) *MemoryStore {
	return &MemoryStore{reg: reg, nextID: 1, now: time.Now}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) InsertFace(_ context.Context, f *models.FaceRecord) (int64, error) {
	model := f.Model()
	v, err := f.Embedding.Get(model)
	if err != nil {
		return 0, fmt.Errorf("insert face: %w", err)
	}
	if d, err := s.reg.Dimension(model); err != nil {
		return 0, fmt.Errorf("insert face: %w", err)
	} else if len(v) != d {
		return 0, fmt.Errorf("insert face: %w", models.ErrDimensionMismatch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f.ID = s.nextID
	f.CreatedAt = s.now()
	s.nextID++
	s.faces = append(s.faces, *f)
	return f.ID, nil
}

func (s *MemoryStore) GetFace(_ context.Context, id int64) (*models.FaceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.faces {
		if s.faces[i].ID == id {
			f := s.faces[i]
			return &f, nil
		}
	}
	return nil, fmt.Errorf("face %d: %w", id, models.ErrNotFound)
}

func (s *MemoryStore) FindFacesBySourceImage(_ context.Context, name string) ([]models.FaceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.FaceRecord
	for _, f := range s.faces {
		if strings.EqualFold(f.SourceImage, name) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *MemoryStore) FindRandomFaces(_ context.Context, limit int, search string) ([]models.FaceRecord, error) {
	terms := strings.Fields(strings.ToLower(search))

	s.mu.RLock()
	var out []models.FaceRecord
	for _, f := range s.faces {
		if len(terms) == 0 || matchesAny(f, terms) {
			out = append(out, f)
		}
	}
	s.mu.RUnlock()

	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchesAny(f models.FaceRecord, terms []string) bool {
	image := strings.ToLower(f.SourceImage)
	model := strings.ToLower(string(f.Model()))
	for _, t := range terms {
		if strings.Contains(image, t) || strings.Contains(model, t) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CountFaces(_ context.Context, since *time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if since == nil {
		return len(s.faces), nil
	}
	n := 0
	for _, f := range s.faces {
		if !f.CreatedAt.Before(*since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListSourceImages(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, f := range s.faces {
		if !seen[f.SourceImage] {
			seen[f.SourceImage] = true
			out = append(out, f.SourceImage)
		}
	}
	return out, nil
}

func (s *MemoryStore) FindSimilarFaces(_ context.Context, query []float32, model models.Model, metric models.Metric, limit int) ([]ScoredFace, error) {
	d, err := s.reg.Dimension(model)
	if err != nil {
		return nil, err
	}
	if len(query) != d {
		return nil, fmt.Errorf("%w: model %s expects %d, got %d", models.ErrDimensionMismatch, model, d, len(query))
	}
	var dist func(a, b []float32) float64
	switch metric {
	case models.MetricL2:
		dist = L2Distance
	case models.MetricCosine:
		dist = CosineDistance
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedMetric, metric)
	}

	s.mu.RLock()
	var out []ScoredFace
	for _, f := range s.faces {
		v, err := f.Embedding.Get(model)
		if err != nil {
			continue
		}
		out = append(out, ScoredFace{Face: f, Distance: dist(query, v)})
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if c := CompareDistance(out[i].Distance, out[j].Distance); c != 0 {
			return c < 0
		}
		return out[i].Face.ID < out[j].Face.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AddUser registers a user for dashboard counts.
func (s *MemoryStore) AddUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, u)
}

func (s *MemoryStore) CountUsers(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

// CompareDistance orders distances ascending with NaN after every number,
// which is where PostgreSQL sorts NaN.
func CompareDistance(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	}
	return cmp.Compare(a, b)
}

// L2Distance is the Euclidean distance, matching pgvector's <-> operator.
func L2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CosineDistance is 1 - cosine similarity, matching pgvector's <=> operator.
// A zero vector yields NaN, as in pgvector.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
