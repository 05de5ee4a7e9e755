package domain

import (
	"github.com/google/uuid"
)

type JobKind string

const (
	AssignTaskJob       JobKind = "assign_task"
	RecomputeForUserJob JobKind = "recompute_for_user"
	BulkRecomputeJob    JobKind = "bulk_recompute"
)

type QueueClass string

const (
	CriticalQueue QueueClass = "critical"
	DefaultQueue  QueueClass = "default"
	BulkQueue     QueueClass = "bulk"
)

// Job is the unit of work carried by the job queue.
// Attempt counts the retries already made; a freshly dispatched job has Attempt 0.
type Job struct {
	ID       string     `json:"id"`
	Kind     JobKind    `json:"kind"`
	TargetID int32      `json:"target_id"`
	TaskIDs  []int32    `json:"task_ids,omitempty"`
	Queue    QueueClass `json:"queue"`
	Attempt  int        `json:"attempt"`
}

func NewJob(kind JobKind, targetID int32, queue QueueClass) Job {
	return Job{
		ID:       uuid.NewString(),
		Kind:     kind,
		TargetID: targetID,
		Queue:    queue,
	}
}

// QueueNames resolves a queue class to the broker queue name.
type QueueNames map[QueueClass]string

func (q QueueNames) For(class QueueClass) string {
	if name, ok := q[class]; ok {
		return name
	}

	return q[DefaultQueue]
}
