// Package memory is an in-process workflow engine used for local runs and
// tests. It keeps process instances, a job queue per task type, message
// subscriptions and a command log.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/repairshop-worker/internal/engine"
	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/internal/worker/variables"
	sharedlogger "github.com/cuongbtq/repairshop-worker/shared/logger"
)

// JobStatus is the engine-side state of a job
type JobStatus string

// Job statuses
const (
	JobPending   JobStatus = "PENDING"
	JobActivated JobStatus = "ACTIVATED"
	JobCompleted JobStatus = "COMPLETED"
	JobErrored   JobStatus = "ERRORED"
	JobIncident  JobStatus = "INCIDENT"
	JobCanceled  JobStatus = "CANCELED"
)

// CommandKind names an engine command
type CommandKind string

// Command kinds
const (
	CommandComplete       CommandKind = "complete"
	CommandFail           CommandKind = "fail"
	CommandThrowError     CommandKind = "throw-error"
	CommandPublishMessage CommandKind = "publish-message"
)

// Command is one accepted call recorded by the engine
type Command struct {
	Kind           CommandKind
	JobKey         string
	Variables      variables.Bag
	Retries        uint
	Reason         string
	Code           string
	Message        string
	MessageName    string
	CorrelationKey string
}

// Incident is raised when a job fails with no retries left
type Incident struct {
	JobKey string
	Reason string
}

// ThrownError is a business error raised inside a process instance
type ThrownError struct {
	JobKey  string
	Code    string
	Message string
}

// Instance is a snapshot of a process instance
type Instance struct {
	Key       string
	Variables variables.Bag
	Errors    []ThrownError
	Incidents []Incident
}

// JobSnapshot is a snapshot of a job's engine-side state
type JobSnapshot struct {
	Key         string
	Type        string
	Status      JobStatus
	Retries     uint
	Activations int
}

// Config holds simulated engine settings
type Config struct {
	Logger        *slog.Logger
	QueueCapacity int
	LeaseTimeout  time.Duration
}

type instance struct {
	key       string
	vars      variables.Bag
	errors    []ThrownError
	incidents []Incident
}

type job struct {
	key         string
	taskType    string
	instanceKey string
	retries     uint
	status      JobStatus
	activations int
}

type subscription struct {
	name           string
	correlationKey string
	instanceKey    string
}

type fault struct {
	remaining int
	err       error
}

// Engine is the simulated engine. It is safe for concurrent use.
type Engine struct {
	logger        *slog.Logger
	capacity      int
	leaseTimeout  time.Duration
	mu            sync.Mutex
	instances     map[string]*instance
	jobs          map[string]*job
	queues        map[string]chan string
	subscriptions []subscription
	commands      []Command
	faults        map[CommandKind]*fault
	nextJob       int
}

var _ engine.Engine = (*Engine)(nil)

// New creates an empty simulated engine
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = sharedlogger.Discard()
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = 1024
	}
	lease := cfg.LeaseTimeout
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	return &Engine{
		logger:       logger,
		capacity:     capacity,
		leaseTimeout: lease,
		instances:    make(map[string]*instance),
		jobs:         make(map[string]*job),
		queues:       make(map[string]chan string),
		faults:       make(map[CommandKind]*fault),
	}
}

// CreateInstance starts a process instance with the given variables
func (e *Engine) CreateInstance(key string, vars variables.Bag) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.instances[key]; ok {
		return fmt.Errorf("process instance %s already exists", key)
	}
	e.instances[key] = &instance{key: key, vars: vars}
	return nil
}

// CreateJob makes a job of taskType ready for the instance and returns its key
func (e *Engine) CreateJob(instanceKey, taskType string, retries uint) (string, error) {
	e.mu.Lock()
	if _, ok := e.instances[instanceKey]; !ok {
		e.mu.Unlock()
		return "", fmt.Errorf("process instance %s not found", instanceKey)
	}
	e.nextJob++
	key := fmt.Sprintf("%s-job-%d", instanceKey, e.nextJob)
	e.jobs[key] = &job{
		key:         key,
		taskType:    taskType,
		instanceKey: instanceKey,
		retries:     retries,
		status:      JobPending,
	}
	queue := e.queueLocked(taskType)
	e.mu.Unlock()

	if err := e.enqueue(queue, key); err != nil {
		return "", err
	}

	e.logger.Debug("Job created",
		slog.String("job_key", key),
		slog.String("task_type", taskType),
		slog.String("process_instance_key", instanceKey),
	)
	return key, nil
}

// AwaitMessage parks the instance on a message with the given name and correlation key
func (e *Engine) AwaitMessage(instanceKey, name, correlationKey string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.instances[instanceKey]; !ok {
		return fmt.Errorf("process instance %s not found", instanceKey)
	}
	e.subscriptions = append(e.subscriptions, subscription{
		name:           name,
		correlationKey: correlationKey,
		instanceKey:    instanceKey,
	})
	return nil
}

// CancelJob revokes a job. Later reports for it are rejected as stale.
func (e *Engine) CancelJob(jobKey string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	j, ok := e.jobs[jobKey]
	if !ok {
		return fmt.Errorf("job %s not found", jobKey)
	}
	j.status = JobCanceled
	return nil
}

// InjectFault makes the next n calls of the given command return err
func (e *Engine) InjectFault(kind CommandKind, n int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults[kind] = &fault{remaining: n, err: err}
}

// Instance returns a snapshot of a process instance
func (e *Engine) Instance(key string) (Instance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, ok := e.instances[key]
	if !ok {
		return Instance{}, false
	}
	return Instance{
		Key:       inst.key,
		Variables: inst.vars,
		Errors:    append([]ThrownError(nil), inst.errors...),
		Incidents: append([]Incident(nil), inst.incidents...),
	}, true
}

// Job returns a snapshot of a job
func (e *Engine) Job(key string) (JobSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	j, ok := e.jobs[key]
	if !ok {
		return JobSnapshot{}, false
	}
	return JobSnapshot{
		Key:         j.key,
		Type:        j.taskType,
		Status:      j.status,
		Retries:     j.retries,
		Activations: j.activations,
	}, true
}

// Commands returns every accepted command in order
func (e *Engine) Commands() []Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Command(nil), e.commands...)
}

// JobCommands returns the accepted commands targeting one job
func (e *Engine) JobCommands(jobKey string) []Command {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Command
	for _, c := range e.commands {
		if c.JobKey == jobKey {
			out = append(out, c)
		}
	}
	return out
}

// Activate streams pending jobs of the given task types
func (e *Engine) Activate(ctx context.Context, taskTypes []string) (<-chan *engine.Activation, error) {
	if len(taskTypes) == 0 {
		return nil, fmt.Errorf("no task types to activate")
	}

	out := make(chan *engine.Activation)
	var wg sync.WaitGroup

	for _, taskType := range taskTypes {
		e.mu.Lock()
		queue := e.queueLocked(taskType)
		e.mu.Unlock()

		wg.Add(1)
		go func(queue chan string) {
			defer wg.Done()
			e.stream(ctx, queue, out)
		}(queue)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

func (e *Engine) stream(ctx context.Context, queue chan string, out chan<- *engine.Activation) {
	for {
		select {
		case <-ctx.Done():
			return
		case key := <-queue:
			act, ok := e.activate(key)
			if !ok {
				continue
			}
			select {
			case out <- act:
			case <-ctx.Done():
				// hand the job back for the next subscriber
				e.release(key)
				return
			}
		}
	}
}

func (e *Engine) activate(key string) (*engine.Activation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	j, ok := e.jobs[key]
	if !ok || j.status != JobPending {
		return nil, false
	}
	inst := e.instances[j.instanceKey]
	j.status = JobActivated
	j.activations++

	job := domain.Job{
		Key:                j.key,
		Type:               j.taskType,
		ProcessInstanceKey: j.instanceKey,
		Retries:            j.retries,
		Variables:          inst.vars,
		Deadline:           time.Now().Add(e.leaseTimeout),
	}

	return engine.NewActivation(job,
		func() error { return nil },
		func(requeue bool) error {
			if requeue {
				e.release(key)
			}
			return nil
		},
	), true
}

// release puts an activated job back in its queue
func (e *Engine) release(key string) {
	e.mu.Lock()
	j, ok := e.jobs[key]
	if !ok || j.status != JobActivated {
		e.mu.Unlock()
		return
	}
	j.status = JobPending
	queue := e.queueLocked(j.taskType)
	e.mu.Unlock()

	if err := e.enqueue(queue, key); err != nil {
		e.logger.Error("Failed to requeue job",
			slog.String("job_key", key),
			slog.String("error", err.Error()),
		)
	}
}

// CompleteJob merges vars into the job's process instance
func (e *Engine) CompleteJob(ctx context.Context, jobKey string, vars variables.Bag) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.takeFaultLocked(CommandComplete); err != nil {
		return err
	}
	j, err := e.activeJobLocked(jobKey)
	if err != nil {
		return err
	}

	inst := e.instances[j.instanceKey]
	inst.vars = inst.vars.Merge(vars)
	j.status = JobCompleted
	e.commands = append(e.commands, Command{Kind: CommandComplete, JobKey: jobKey, Variables: vars})
	return nil
}

// FailJob redelivers the job with the given retries, or raises an incident at zero
func (e *Engine) FailJob(ctx context.Context, jobKey string, retries uint, reason string) error {
	e.mu.Lock()
	if err := e.takeFaultLocked(CommandFail); err != nil {
		e.mu.Unlock()
		return err
	}
	j, err := e.activeJobLocked(jobKey)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	e.commands = append(e.commands, Command{Kind: CommandFail, JobKey: jobKey, Retries: retries, Reason: reason})
	j.retries = retries

	if retries == 0 {
		j.status = JobIncident
		inst := e.instances[j.instanceKey]
		inst.incidents = append(inst.incidents, Incident{JobKey: jobKey, Reason: reason})
		e.mu.Unlock()

		e.logger.Warn("Incident raised",
			slog.String("job_key", jobKey),
			slog.String("reason", reason),
		)
		return nil
	}

	j.status = JobPending
	queue := e.queueLocked(j.taskType)
	e.mu.Unlock()

	return e.enqueue(queue, jobKey)
}

// ThrowError records a business error on the job's process instance
func (e *Engine) ThrowError(ctx context.Context, jobKey, code, message string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.takeFaultLocked(CommandThrowError); err != nil {
		return err
	}
	j, err := e.activeJobLocked(jobKey)
	if err != nil {
		return err
	}

	inst := e.instances[j.instanceKey]
	inst.errors = append(inst.errors, ThrownError{JobKey: jobKey, Code: code, Message: message})
	j.status = JobErrored
	e.commands = append(e.commands, Command{Kind: CommandThrowError, JobKey: jobKey, Code: code, Message: message})
	return nil
}

// PublishMessage merges the payload into the instance waiting on (name, correlation key)
func (e *Engine) PublishMessage(ctx context.Context, msg domain.CorrelatedMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.takeFaultLocked(CommandPublishMessage); err != nil {
		return err
	}

	for i, sub := range e.subscriptions {
		if sub.name != msg.Name || sub.correlationKey != msg.CorrelationKey {
			continue
		}
		inst := e.instances[sub.instanceKey]
		inst.vars = inst.vars.Merge(msg.Payload)
		e.subscriptions = append(e.subscriptions[:i], e.subscriptions[i+1:]...)
		e.commands = append(e.commands, Command{
			Kind:           CommandPublishMessage,
			MessageName:    msg.Name,
			CorrelationKey: msg.CorrelationKey,
			Variables:      msg.Payload,
		})
		return nil
	}

	return fmt.Errorf("%w: %s/%s", engine.ErrNoMatchingInstance, msg.Name, msg.CorrelationKey)
}

func (e *Engine) activeJobLocked(jobKey string) (*job, error) {
	j, ok := e.jobs[jobKey]
	if !ok {
		return nil, fmt.Errorf("%w: job %s not found", engine.ErrJobNotActive, jobKey)
	}
	if j.status != JobActivated {
		return nil, fmt.Errorf("%w: job %s is %s", engine.ErrJobNotActive, jobKey, j.status)
	}
	return j, nil
}

func (e *Engine) takeFaultLocked(kind CommandKind) error {
	f, ok := e.faults[kind]
	if !ok || f.remaining <= 0 {
		return nil
	}
	f.remaining--
	return f.err
}

func (e *Engine) queueLocked(taskType string) chan string {
	q, ok := e.queues[taskType]
	if !ok {
		q = make(chan string, e.capacity)
		e.queues[taskType] = q
	}
	return q
}

func (e *Engine) enqueue(queue chan string, key string) error {
	select {
	case queue <- key:
		return nil
	default:
		return fmt.Errorf("%w: job queue full", engine.ErrUnavailable)
	}
}
