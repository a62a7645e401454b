package dto

// ExtractErrorNoFace is the error code the worker returns with 422 when an
// image holds no detectable face.
const ExtractErrorNoFace = "no_face"

type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type DetectedFace struct {
	FacialArea     Box       `json:"facial_area"`
	LeftEye        Point     `json:"left_eye"`
	RightEye       Point     `json:"right_eye"`
	FaceConfidence float64   `json:"face_confidence"`
	Embedding      []float32 `json:"embedding"`
}

type ExtractResponse struct {
	Model            string         `json:"model"`
	Faces            []DetectedFace `json:"faces"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
