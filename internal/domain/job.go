package domain

import "time"

// JobKind identifies what a job fetches.
type JobKind string

// Job kinds.
const (
	JobPopulation JobKind = "population"
	JobGloFAS     JobKind = "glofas"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

// Job states.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job records one fetch run submitted through the API or the CLI.
type Job struct {
	ID         string            `json:"id"`
	Kind       JobKind           `json:"kind"`
	Boundary   string            `json:"boundary"`
	Status     JobStatus         `json:"status"`
	Outputs    []string          `json:"outputs,omitempty"`
	Error      string            `json:"error,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// Done reports whether the job reached a terminal state.
func (j *Job) Done() bool {
	return j.Status == JobSucceeded || j.Status == JobFailed
}

// Finish moves the job into a terminal state.
func (j *Job) Finish(outputs []string, err error, at time.Time) {
	j.Outputs = outputs
	j.FinishedAt = &at
	if err != nil {
		j.Status = JobFailed
		j.Error = err.Error()
		return
	}
	j.Status = JobSucceeded
}
