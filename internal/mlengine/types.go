package mlengine

// TrainingInput is the training section of a job creation request.
type TrainingInput struct {
	ScaleTier      string   `json:"scaleTier"`
	PackageURIs    []string `json:"packageUris"`
	PythonModule   string   `json:"pythonModule"`
	Region         string   `json:"region"`
	RuntimeVersion string   `json:"runtimeVersion,omitempty"`
	Args           []string `json:"args,omitempty"`
}

// Job is a training job resource.
type Job struct {
	JobID         string         `json:"jobId"`
	TrainingInput *TrainingInput `json:"trainingInput,omitempty"`
	State         string         `json:"state,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	CreateTime    string         `json:"createTime,omitempty"`
	StartTime     string         `json:"startTime,omitempty"`
	EndTime       string         `json:"endTime,omitempty"`
}

const (
	StateQueued    = "QUEUED"
	StatePreparing = "PREPARING"
	StateRunning   = "RUNNING"
	StateSucceeded = "SUCCEEDED"
	StateFailed    = "FAILED"
	StateCancelled = "CANCELLED"
)

// Terminal reports whether the job has stopped.
func (j Job) Terminal() bool {
	switch j.State {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}
