package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/hirohiroko250/autograder-system/internal/domain/shared"
	"github.com/hirohiroko250/autograder-system/internal/infrastructure/scheduler"
)

var errInvalidLimit = shared.NewDomainError("http", "JobHistory", shared.ErrInvalidInput, "limit must be a non-negative integer")

// JobRunner exposes the worker's scheduled jobs. scheduler.Scheduler
// implements it.
type JobRunner interface {
	ListJobs() []scheduler.JobInfo
	History(limit int) []scheduler.JobResult
	Trigger(jobName string) error
	RunNow(ctx context.Context, jobName string) (*scheduler.JobResult, error)
}

// JobView describes a registered job.
type JobView struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Interval    string      `json:"interval"`
	RunCount    int64       `json:"run_count"`
	FailCount   int64       `json:"fail_count"`
	LastRun     *JobRunView `json:"last_run,omitempty"`
}

// JobRunView is one finished run of a job.
type JobRunView struct {
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

func newJobRunView(r scheduler.JobResult) JobRunView {
	v := JobRunView{
		Job:        r.JobName,
		StartedAt:  r.StartedAt,
		DurationMS: r.Duration.Milliseconds(),
		Success:    r.Success,
	}
	if r.Error != nil {
		v.Error = r.Error.Error()
	}
	return v
}

func (s *Server) handleListJobs(r *http.Request) (interface{}, error) {
	jobs := s.deps.Jobs.ListJobs()
	out := make([]JobView, len(jobs))
	for i, j := range jobs {
		out[i] = JobView{
			Name:        j.Name,
			Description: j.Description,
			Interval:    j.Interval.String(),
			RunCount:    j.RunCount,
			FailCount:   j.FailCount,
		}
		if j.LastRun != nil {
			last := newJobRunView(*j.LastRun)
			out[i].LastRun = &last
		}
	}
	return out, nil
}

func (s *Server) handleJobHistory(r *http.Request) (interface{}, error) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, errInvalidLimit
		}
		limit = n
	}
	history := s.deps.Jobs.History(limit)
	out := make([]JobRunView, len(history))
	for i, h := range history {
		out[i] = newJobRunView(h)
	}
	return out, nil
}

// handleRunJob starts a job in the background, or with ?wait=true runs it
// within the request and returns the finished run.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		res, err := s.deps.Jobs.RunNow(r.Context(), name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newJobRunView(*res))
		return
	}

	if err := s.deps.Jobs.Trigger(name); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job": name, "status": "started"})
}

func jobErrorStatus(err error) (int, string, bool) {
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		return http.StatusNotFound, "not_found", true
	case errors.Is(err, scheduler.ErrJobRunning):
		return http.StatusConflict, "job_running", true
	case errors.Is(err, scheduler.ErrSchedulerNotRunning):
		return http.StatusServiceUnavailable, "scheduler_stopped", true
	}
	return 0, "", false
}
