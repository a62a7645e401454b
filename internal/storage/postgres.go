package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/facefinder/internal/config"
	"github.com/your-org/facefinder/internal/models"
)

// slotColumns maps a vector dimensionality to the typed column holding it.
// Two models with the same dimensionality share a column; the model column
// keeps their coordinate spaces apart.
var slotColumns = map[int]string{
	128:  "emb_128",
	512:  "emb_512",
	4096: "emb_4096",
}

var distanceOperators = map[models.Metric]string{
	models.MetricL2:     "<->",
	models.MetricCosine: "<=>",
}

const faceColumns = `id, source_image, x, y, w, h, left_eye_x, left_eye_y, right_eye_x, right_eye_y,
	confidence, quality, model, COALESCE(emb_128::vector, emb_512::vector, emb_4096::vector), created_at`

// PostgresStore is the face repository backed by PostgreSQL with pgvector.
type PostgresStore struct {
	pool *pgxpool.Pool
	reg  *models.Registry
}

func NewPostgresStore(cfg config.DatabaseConfig, reg *models.Registry) (*PostgresStore, error) {
	for _, d := range reg.Dimensions() {
		if _, ok := slotColumns[d]; !ok {
			return nil, fmt.Errorf("%w: no vector column for dimension %d", models.ErrUnsupportedModel, d)
		}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool, reg: reg}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) slotColumn(m models.Model) (string, error) {
	d, err := s.reg.Dimension(m)
	if err != nil {
		return "", err
	}
	col, ok := slotColumns[d]
	if !ok {
		return "", fmt.Errorf("%w: no vector column for dimension %d", models.ErrUnsupportedModel, d)
	}
	return col, nil
}

// --- Faces ---

// InsertFace appends a face and fills in its ID and CreatedAt. Each call is
// its own transaction.
func (s *PostgresStore) InsertFace(ctx context.Context, f *models.FaceRecord) (int64, error) {
	model := f.Model()
	vector, err := f.Embedding.Get(model)
	if err != nil {
		return 0, fmt.Errorf("insert face: %w", err)
	}
	col, err := s.slotColumn(model)
	if err != nil {
		return 0, fmt.Errorf("insert face: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO face_region
		(source_image, x, y, w, h, left_eye_x, left_eye_y, right_eye_x, right_eye_y, confidence, quality, model, %s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at`, col)

	err = s.pool.QueryRow(ctx, query,
		f.SourceImage, f.BBox.X, f.BBox.Y, f.BBox.W, f.BBox.H,
		f.LeftEye.X, f.LeftEye.Y, f.RightEye.X, f.RightEye.Y,
		f.Confidence, f.Quality, string(model), pgvector.NewVector(vector),
	).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert face: %w", err)
	}
	return f.ID, nil
}

// GetFace returns models.ErrNotFound when no face has the id.
func (s *PostgresStore) GetFace(ctx context.Context, id int64) (*models.FaceRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+faceColumns+` FROM face_region WHERE id = $1`, id)
	f, err := s.scanFace(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("face %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("get face: %w", err)
	}
	return f, nil
}

// FindFacesBySourceImage matches the source image name case-insensitively.
func (s *PostgresStore) FindFacesBySourceImage(ctx context.Context, name string) ([]models.FaceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+faceColumns+` FROM face_region WHERE lower(source_image) = lower($1)`, name)
	if err != nil {
		return nil, fmt.Errorf("query faces by source image: %w", err)
	}
	defer rows.Close()

	return s.scanFaces(rows)
}

// FindRandomFaces returns up to limit faces in random order whose source
// image or model contains any whitespace-separated token of search.
func (s *PostgresStore) FindRandomFaces(ctx context.Context, limit int, search string) ([]models.FaceRecord, error) {
	var (
		where []string
		args  []any
	)
	for _, term := range strings.Fields(search) {
		args = append(args, "%"+escapeLike(term)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("source_image ILIKE $%d OR model ILIKE $%d", n, n))
	}

	query := `SELECT ` + faceColumns + ` FROM face_region`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " OR ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY random() LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query random faces: %w", err)
	}
	defer rows.Close()

	return s.scanFaces(rows)
}

// CountFaces counts all faces, or only those created at or after since.
func (s *PostgresStore) CountFaces(ctx context.Context, since *time.Time) (int, error) {
	var (
		count int
		err   error
	)
	if since != nil {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM face_region WHERE created_at >= $1`, *since).Scan(&count)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM face_region`).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	return count, nil
}

// ListSourceImages returns every distinct source image name stored.
func (s *PostgresStore) ListSourceImages(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT source_image FROM face_region`)
	if err != nil {
		return nil, fmt.Errorf("query source images: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan source image: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source images: %w", err)
	}
	return names, nil
}

// hnsw.ef_search bounds how many rows one HNSW scan yields (pgvector caps it
// at 1000).
const (
	minEFSearch = 40
	maxEFSearch = 1000
)

func efSearch(limit int) int {
	return min(max(limit, minEFSearch), maxEFSearch)
}

// FindSimilarFaces ranks faces of the given model by distance to query,
// nearest first. Models of equal dimensionality share an index, so the model
// filter runs after the index scan; the scan is made iterative (pgvector
// 0.8+) to keep going until limit rows of this model are found.
func (s *PostgresStore) FindSimilarFaces(ctx context.Context, query []float32, model models.Model, metric models.Metric, limit int) ([]ScoredFace, error) {
	col, err := s.slotColumn(model)
	if err != nil {
		return nil, err
	}
	op, ok := distanceOperators[metric]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedMetric, metric)
	}
	if d, _ := s.reg.Dimension(model); len(query) != d {
		return nil, fmt.Errorf("%w: model %s expects %d, got %d", models.ErrDimensionMismatch, model, d, len(query))
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin search: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`SET LOCAL hnsw.ef_search = %d`, efSearch(limit))); err != nil {
		return nil, fmt.Errorf("set ef_search: %w", err)
	}
	if _, err := tx.Exec(ctx, `SET LOCAL hnsw.iterative_scan = strict_order`); err != nil {
		return nil, fmt.Errorf("set iterative_scan: %w", err)
	}

	sql := fmt.Sprintf(`SELECT %s, %s %s $1 AS distance
		FROM face_region
		WHERE model = $2 AND %s IS NOT NULL
		ORDER BY %s %s $1
		LIMIT $3`, faceColumns, col, op, col, col, op)

	rows, err := tx.Query(ctx, sql, pgvector.NewVector(query), string(model), limit)
	if err != nil {
		return nil, fmt.Errorf("search faces: %w", err)
	}
	defer rows.Close()

	var out []ScoredFace
	for rows.Next() {
		var distance float64
		f, err := s.scanFace(rows, &distance)
		if err != nil {
			return nil, fmt.Errorf("scan similar face: %w", err)
		}
		out = append(out, ScoredFace{Face: *f, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar faces: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit search: %w", err)
	}
	return out, nil
}

// --- Users ---

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// --- scanning ---

func (s *PostgresStore) scanFace(row pgx.Row, extra ...any) (*models.FaceRecord, error) {
	var (
		f     models.FaceRecord
		model string
		vec   pgvector.Vector
	)
	dest := []any{
		&f.ID, &f.SourceImage, &f.BBox.X, &f.BBox.Y, &f.BBox.W, &f.BBox.H,
		&f.LeftEye.X, &f.LeftEye.Y, &f.RightEye.X, &f.RightEye.Y,
		&f.Confidence, &f.Quality, &model, &vec, &f.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	emb, err := models.NewEmbedding(s.reg, vec, models.Model(model))
	if err != nil {
		return nil, fmt.Errorf("face %d: %w", f.ID, err)
	}
	f.Embedding = emb
	return &f, nil
}

func (s *PostgresStore) scanFaces(rows pgx.Rows) ([]models.FaceRecord, error) {
	var faces []models.FaceRecord
	for rows.Next() {
		f, err := s.scanFace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		faces = append(faces, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faces: %w", err)
	}
	return faces, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
