package distlib

import "time"

// Recorder receives scheduler metrics. The service calls it from worker
// goroutines, implementations must be safe for concurrent use.
type Recorder interface {
	TaskStarted(p Priority)
	TaskFinished(p Priority, result ResultCode, d time.Duration)
	InstallFinished(result ResultCode)
}

// NopRecorder discards every observation.
type NopRecorder struct{}

func (NopRecorder) TaskStarted(Priority)                             {}
func (NopRecorder) TaskFinished(Priority, ResultCode, time.Duration) {}
func (NopRecorder) InstallFinished(ResultCode)                       {}
