package dto

type FaceResponse struct {
	ID          int64   `json:"id"`
	SourceImage string  `json:"source_image"`
	Model       string  `json:"model"`
	BBox        Box     `json:"bbox"`
	LeftEye     Point   `json:"left_eye"`
	RightEye    Point   `json:"right_eye"`
	Confidence  float64 `json:"confidence"`
	Quality     float64 `json:"quality"`
	// Preview is the artifact URL, empty when the crop could not be derived.
	Preview   string `json:"preview,omitempty"`
	CreatedAt string `json:"created_at"`
}

type FaceListResponse struct {
	Faces []FaceResponse `json:"faces"`
	Total int            `json:"total"`
}

// FaceDetailResponse is a face plus the other faces found in the same
// source image under the same model.
type FaceDetailResponse struct {
	Face      FaceResponse   `json:"face"`
	SameImage []FaceResponse `json:"same_image"`
}

type MatchResponse struct {
	Face     FaceResponse `json:"face"`
	Distance float64      `json:"distance"`
	IsSame   bool         `json:"is_same"`
}

type SimilarResponse struct {
	Model   string          `json:"model"`
	Metric  string          `json:"metric"`
	Query   *FaceResponse   `json:"query,omitempty"`
	Matches []MatchResponse `json:"matches"`
}

type AnalyzedFace struct {
	FacialArea     Box     `json:"facial_area"`
	FaceConfidence float64 `json:"face_confidence"`
	Matches        int     `json:"matches"`
}

type AnalyzeResponse struct {
	Model  string         `json:"model"`
	Metric string         `json:"metric"`
	Faces  []AnalyzedFace `json:"faces"`
}

type DashboardResponse struct {
	TotalFaces   int `json:"total_faces"`
	FacesLast24h int `json:"faces_last_24h"`
	Users        int `json:"users"`
}
