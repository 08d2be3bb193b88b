package scheduler

import "errors"

var (
	ErrInvalidSchedule        = errors.New("invalid schedule")
	ErrInvalidJob             = errors.New("job name and function are required")
	ErrJobAlreadyRegistered   = errors.New("job already registered")
	ErrJobNotFound            = errors.New("job not found")
	ErrJobRunning             = errors.New("job is already running")
	ErrSchedulerNotConfigured = errors.New("scheduler has no registered jobs")
	ErrSchedulerStopped       = errors.New("scheduler is shutting down")
)
