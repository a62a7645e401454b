// Package preview crops face bounding boxes out of source images and caches
// the crops as JPEG artifacts.
package preview

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/your-org/facefinder/internal/models"
	"github.com/your-org/facefinder/internal/observability"
)

// ErrInvalidGeometry is returned for a degenerate bounding box or one that
// does not lie inside the source image.
var ErrInvalidGeometry = errors.New("invalid bounding box")

const jpegQuality = 90

// ArtifactStore persists derived previews. Put without overwrite must leave
// an existing artifact untouched.
type ArtifactStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, data []byte, overwrite bool) error
	Get(ctx context.Context, key string) ([]byte, error)
}

type Cache struct {
	store     ArtifactStore
	sourceDir string
}

func NewCache(store ArtifactStore, sourceDir string) *Cache {
	return &Cache{store: store, sourceDir: sourceDir}
}

// Key names the artifact for a bounding box on a source image. Equal inputs
// give equal keys and distinct boxes on one image give distinct keys.
func Key(source string, bbox models.BoundingBox) string {
	sum := sha1.Sum([]byte(source))
	return hex.EncodeToString(sum[:]) + fmt.Sprintf("%d_%d_%d_%d.jpg", bbox.X, bbox.Y, bbox.W, bbox.H)
}

// Derive returns the key of the preview for bbox on source, producing it
// first when it is missing or overwrite is set.
func (c *Cache) Derive(ctx context.Context, source string, bbox models.BoundingBox, overwrite bool) (string, error) {
	key := Key(source, bbox)

	if !overwrite {
		ok, err := c.store.Exists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("check preview: %w", err)
		}
		if ok {
			observability.PreviewLookups.WithLabelValues("hit").Inc()
			return key, nil
		}
	}
	observability.PreviewLookups.WithLabelValues("miss").Inc()

	img, err := c.load(source)
	if err != nil {
		return "", err
	}
	data, err := Crop(img, bbox)
	if err != nil {
		return "", fmt.Errorf("preview %s %s: %w", source, bbox, err)
	}
	if err := c.store.Put(ctx, key, data, overwrite); err != nil {
		return "", fmt.Errorf("store preview: %w", err)
	}
	return key, nil
}

// Get returns the stored artifact bytes for key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	return c.store.Get(ctx, key)
}

func (c *Cache) load(source string) (image.Image, error) {
	if !filepath.IsLocal(source) {
		return nil, fmt.Errorf("source image %q: %w", source, models.ErrNotFound)
	}
	f, err := os.Open(filepath.Join(c.sourceDir, source))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("source image %s: %w", source, models.ErrNotFound)
		}
		return nil, fmt.Errorf("open source image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode source image %s: %w", source, err)
	}
	return img, nil
}

// Crop cuts bbox out of img, flattens any transparency onto white and
// encodes the result as JPEG.
func Crop(img image.Image, bbox models.BoundingBox) ([]byte, error) {
	if bbox.W <= 0 || bbox.H <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidGeometry, bbox.W, bbox.H)
	}
	b := img.Bounds()
	r := image.Rect(bbox.X, bbox.Y, bbox.X+bbox.W, bbox.Y+bbox.H).Add(b.Min)
	if !r.In(b) {
		return nil, fmt.Errorf("%w: %s outside %dx%d", ErrInvalidGeometry, bbox, b.Dx(), b.Dy())
	}

	dst := image.NewRGBA(image.Rect(0, 0, bbox.W, bbox.H))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return buf.Bytes(), nil
}
