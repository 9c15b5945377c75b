package amqpgw

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/internal/worker/variables"
)

// Routing keys for engine commands
const (
	RouteComplete       = "commands.complete"
	RouteFail           = "commands.fail"
	RouteThrowError     = "commands.throw-error"
	RoutePublishMessage = "commands.publish-message"

	jobRoutePrefix  = "jobs."
	contentTypeJSON = "application/json"
)

// JobRoutingKey is the routing key the engine publishes taskType's jobs under
func JobRoutingKey(taskType string) string {
	return jobRoutePrefix + taskType
}

// JobRoutingKeys returns the queue bindings for a set of task types
func JobRoutingKeys(taskTypes []string) []string {
	keys := make([]string, len(taskTypes))
	for i, t := range taskTypes {
		keys[i] = JobRoutingKey(t)
	}
	return keys
}

// activationMessage is a job activation as the engine publishes it
type activationMessage struct {
	Key                string        `json:"key"`
	Type               string        `json:"type"`
	ProcessInstanceKey string        `json:"processInstanceKey"`
	Retries            *uint         `json:"retries"`
	Variables          variables.Bag `json:"variables"`
	Deadline           *time.Time    `json:"deadline,omitempty"`
}

// DecodeActivation parses an activation body. Key and type are required and
// a missing retries count is a malformed message rather than zero.
func DecodeActivation(body []byte) (domain.Job, error) {
	var msg activationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	switch {
	case msg.Key == "":
		return domain.Job{}, fmt.Errorf("%w: activation without key", domain.ErrInvalidPayload)
	case msg.Type == "":
		return domain.Job{}, fmt.Errorf("%w: activation %s without type", domain.ErrInvalidPayload, msg.Key)
	case msg.Retries == nil:
		return domain.Job{}, fmt.Errorf("%w: activation %s without retries", domain.ErrInvalidPayload, msg.Key)
	}

	job := domain.Job{
		Key:                msg.Key,
		Type:               msg.Type,
		ProcessInstanceKey: msg.ProcessInstanceKey,
		Retries:            *msg.Retries,
		Variables:          msg.Variables,
	}
	if msg.Deadline != nil {
		job.Deadline = *msg.Deadline
	}
	return job, nil
}

// EncodeActivation renders a job the way the engine publishes it
func EncodeActivation(job domain.Job) ([]byte, error) {
	retries := job.Retries
	msg := activationMessage{
		Key:                job.Key,
		Type:               job.Type,
		ProcessInstanceKey: job.ProcessInstanceKey,
		Retries:            &retries,
		Variables:          job.Variables,
	}
	if !job.Deadline.IsZero() {
		deadline := job.Deadline
		msg.Deadline = &deadline
	}
	return json.Marshal(msg)
}

type completeCommand struct {
	JobKey    string        `json:"jobKey"`
	Variables variables.Bag `json:"variables"`
}

type failCommand struct {
	JobKey       string `json:"jobKey"`
	Retries      uint   `json:"retries"`
	ErrorMessage string `json:"errorMessage"`
}

type throwErrorCommand struct {
	JobKey       string `json:"jobKey"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type publishMessageCommand struct {
	Name           string        `json:"name"`
	CorrelationKey string        `json:"correlationKey"`
	Variables      variables.Bag `json:"variables"`
}
