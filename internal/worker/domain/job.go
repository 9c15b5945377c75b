package domain

import (
	"time"

	"github.com/cuongbtq/repairshop-worker/internal/worker/variables"
)

// Job is one unit of work handed to the worker by the engine
type Job struct {
	Key                string
	Type               string
	ProcessInstanceKey string
	Retries            uint
	Variables          variables.Bag
	Deadline           time.Time
}

// CorrelatedMessage resumes a process branch parked on (Name, CorrelationKey)
type CorrelatedMessage struct {
	Name           string
	CorrelationKey string
	Payload        variables.Bag
}

// NewMessage builds a message correlated with the job's own process instance
func (j Job) NewMessage(name string, payload variables.Bag) CorrelatedMessage {
	return CorrelatedMessage{
		Name:           name,
		CorrelationKey: j.ProcessInstanceKey,
		Payload:        payload,
	}
}
