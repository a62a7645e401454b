package dto

// IngestCommand asks the ingestor to run. RunID is assigned by the sender so
// callers can follow progress before the run starts.
type IngestCommand struct {
	Action      string `json:"action"` // scan
	RunID       string `json:"run_id"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// Progress event types.
const (
	ProgressStarted   = "started"
	ProgressMessage   = "progress"
	ProgressCompleted = "completed"
	ProgressFailed    = "failed"
	ProgressRejected  = "rejected"
)

type IngestProgress struct {
	RunID     string       `json:"run_id"`
	Type      string       `json:"type"`
	Message   string       `json:"message,omitempty"`
	Summary   *IngestStats `json:"summary,omitempty"`
	Timestamp string       `json:"timestamp"`
}

type IngestStats struct {
	Selected  int `json:"selected"`
	Processed int `json:"processed"`
	Faces     int `json:"faces"`
	Succeeded int `json:"succeeded"`
	NoFace    int `json:"no_face"`
	Failed    int `json:"failed"`
}

type IngestTriggerResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}
