// Package notify delivers job lifecycle events to live subscribers.
package notify

import (
	"context"

	"github.com/jonesrussell/ocrbase/internal/domain"
)

type EventType string

const (
	EventStatus    EventType = "status"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
)

// Event is also the realtime wire format.
type Event struct {
	Type  EventType `json:"type"`
	JobID string    `json:"jobId"`
	Data  EventData `json:"data"`
}

type EventData struct {
	Status           domain.JobStatus `json:"status,omitempty"`
	Error            string           `json:"error,omitempty"`
	ErrorCode        string           `json:"errorCode,omitempty"`
	PageCount        *int             `json:"pageCount,omitempty"`
	TokenCount       *int             `json:"tokenCount,omitempty"`
	ProcessingTimeMs *int64           `json:"processingTimeMs,omitempty"`
}

// JobEvent builds the event announcing job's current state.
func JobEvent(job *domain.Job) Event {
	ev := Event{Type: EventStatus, JobID: job.ID, Data: EventData{Status: job.Status}}
	switch job.Status {
	case domain.JobStatusCompleted:
		ev.Type = EventCompleted
		ev.Data.PageCount = job.PageCount
		ev.Data.TokenCount = job.TokenCount
		ev.Data.ProcessingTimeMs = job.ProcessingTimeMs
	case domain.JobStatusFailed:
		ev.Type = EventError
		if job.ErrorMessage != nil {
			ev.Data.Error = *job.ErrorMessage
		}
		if job.ErrorCode != nil {
			ev.Data.ErrorCode = *job.ErrorCode
		}
		ev.Data.ProcessingTimeMs = job.ProcessingTimeMs
	}
	return ev
}

// Notifier announces events. The bus and the redis publisher implement it.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}
