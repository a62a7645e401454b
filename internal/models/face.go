package models

import (
	"fmt"
	"time"
)

type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("%d_%d_%d_%d", b.X, b.Y, b.W, b.H)
}

// Point is a 2D landmark in source image pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// FaceRecord is one detected face. Append-only: the store assigns ID and
// CreatedAt on insert and nothing updates a record afterwards.
type FaceRecord struct {
	ID          int64
	SourceImage string
	BBox        BoundingBox
	LeftEye     Point
	RightEye    Point
	Confidence  float64
	Quality     float64
	Embedding   Embedding
	CreatedAt   time.Time
}

// Model is the producing model of the record's embedding.
func (f *FaceRecord) Model() Model {
	return f.Embedding.Model()
}

// Detection is what an extractor reports for one face.
type Detection struct {
	BBox       BoundingBox `json:"facial_area"`
	LeftEye    Point       `json:"left_eye"`
	RightEye   Point       `json:"right_eye"`
	Confidence float64     `json:"face_confidence"`
	Embedding  []float32   `json:"embedding"`
}

const (
	minQualitySide       = 30
	minQualityConfidence = 0.6
)

// Quality is the coarse usability gate used for thumbnails: 1.0 when the box
// is at least 30x30 and confidence at least 0.6, else 0.0.
func (d Detection) Quality() float64 {
	if d.BBox.W >= minQualitySide && d.BBox.H >= minQualitySide && d.Confidence >= minQualityConfidence {
		return 1.0
	}
	return 0.0
}

// User is only read for dashboard counts; auth lives elsewhere.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
}
