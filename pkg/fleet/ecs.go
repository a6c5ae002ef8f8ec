// Package fleet runs copy jobs as ECS Fargate tasks.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/smithy-go"
	"github.com/elsa-data/copy-out-service/pkg/copyout"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultCapacityProvider = "FARGATE_SPOT"
	DefaultPlatformVersion  = "1.4.0"
	DefaultRunTaskRate      = 1.0
	DefaultRunTaskBurst     = 10

	// maxStartedByLength is the ECS limit on the startedBy field.
	maxStartedByLength = 36
	startedByPrefix    = "copy-out-"
)

// Stop codes reported by ECS for tasks that never ran their command to completion.
const (
	stopCodeSpotInterruption  = "SpotInterruption"
	stopCodeTaskFailedToStart = "TaskFailedToStart"
)

// ErrTaskMissing is returned by Describe when ECS does not know the task.
var ErrTaskMissing = errors.New("task not found on cluster")

// ECSAPI is the subset of the ECS client used by the Runner.
type ECSAPI interface {
	RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
	DescribeTasks(ctx context.Context, params *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
	StopTask(ctx context.Context, params *ecs.StopTaskInput, optFns ...func(*ecs.Options)) (*ecs.StopTaskOutput, error)
}

// Config describes the cluster and task definition jobs are launched with.
type Config struct {
	Cluster        string
	TaskDefinition string
	ContainerName  string
	Subnets        []string
	SecurityGroups []string
	AssignPublicIp bool

	// CapacityProvider defaults to FARGATE_SPOT. Set to FARGATE for on-demand capacity.
	CapacityProvider string
	PlatformVersion  string

	// LogStreamPrefix is the awslogs stream prefix of the task definition.
	LogStreamPrefix string

	// RunTaskRate and RunTaskBurst bound RunTask calls per second across all workers.
	RunTaskRate  float64
	RunTaskBurst int
}

func (c Config) withDefaults() Config {
	if c.CapacityProvider == "" {
		c.CapacityProvider = DefaultCapacityProvider
	}
	if c.PlatformVersion == "" {
		c.PlatformVersion = DefaultPlatformVersion
	}
	if c.RunTaskRate <= 0 {
		c.RunTaskRate = DefaultRunTaskRate
	}
	if c.RunTaskBurst <= 0 {
		c.RunTaskBurst = DefaultRunTaskBurst
	}
	return c
}

// TaskFailureError reports a task ECS refused to place.
type TaskFailureError struct {
	Arn    string
	Reason string
	Detail string
}

func (e *TaskFailureError) Error() string {
	msg := fmt.Sprintf("ecs could not run task: %s", e.Reason)
	if e.Detail != "" {
		msg = msg + " (" + e.Detail + ")"
	}
	return msg
}

// Runner implements copyout.JobRunner on ECS.
type Runner struct {
	client  ECSAPI
	cfg     Config
	limiter *rate.Limiter
}

// NewRunner returns a Runner launching tasks described by cfg.
func NewRunner(client ECSAPI, cfg Config) *Runner {
	cfg = cfg.withDefaults()
	return &Runner{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RunTaskRate), cfg.RunTaskBurst),
	}
}

// Submit starts one task for the job and returns the task ARN.
func (r *Runner) Submit(ctx context.Context, spec copyout.JobSpec) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for run task capacity: %w", err)
	}

	out, err := r.client.RunTask(ctx, r.runTaskInput(spec))
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			log.WithFields(log.Fields{
				"group":      spec.Group,
				"error_code": apiErr.ErrorCode(),
			}).Warn("RunTask rejected")
		}
		return "", fmt.Errorf("run task: %w", err)
	}

	if len(out.Failures) > 0 {
		f := out.Failures[0]
		return "", &TaskFailureError{
			Arn:    aws.ToString(f.Arn),
			Reason: aws.ToString(f.Reason),
			Detail: aws.ToString(f.Detail),
		}
	}
	if len(out.Tasks) == 0 || out.Tasks[0].TaskArn == nil {
		return "", errors.New("run task returned no task")
	}

	taskArn := aws.ToString(out.Tasks[0].TaskArn)
	log.WithFields(log.Fields{
		"group":      spec.Group,
		"task_arn":   taskArn,
		"log_stream": r.LogStream(taskArn),
	}).Debug("task started")

	return taskArn, nil
}

func (r *Runner) runTaskInput(spec copyout.JobSpec) *ecs.RunTaskInput {
	assignPublicIp := types.AssignPublicIpDisabled
	if r.cfg.AssignPublicIp {
		assignPublicIp = types.AssignPublicIpEnabled
	}

	names := make([]string, 0, len(spec.Environment))
	for name := range spec.Environment {
		names = append(names, name)
	}
	sort.Strings(names)
	env := make([]types.KeyValuePair, 0, len(names))
	for _, name := range names {
		env = append(env, types.KeyValuePair{
			Name:  aws.String(name),
			Value: aws.String(spec.Environment[name]),
		})
	}

	input := &ecs.RunTaskInput{
		Cluster:        aws.String(r.cfg.Cluster),
		TaskDefinition: aws.String(r.cfg.TaskDefinition),
		CapacityProviderStrategy: []types.CapacityProviderStrategyItem{
			{CapacityProvider: aws.String(r.cfg.CapacityProvider)},
		},
		PlatformVersion: aws.String(r.cfg.PlatformVersion),
		NetworkConfiguration: &types.NetworkConfiguration{
			AwsvpcConfiguration: &types.AwsVpcConfiguration{
				Subnets:        r.cfg.Subnets,
				SecurityGroups: r.cfg.SecurityGroups,
				AssignPublicIp: assignPublicIp,
			},
		},
		Overrides: &types.TaskOverride{
			ContainerOverrides: []types.ContainerOverride{
				{
					Name:        aws.String(r.cfg.ContainerName),
					Command:     spec.Command,
					Environment: env,
				},
			},
		},
		PropagateTags: types.PropagateTagsTaskDefinition,
	}
	if spec.Group != "" {
		input.StartedBy = aws.String(StartedBy(spec.Group))
		input.Tags = []types.Tag{{Key: aws.String("copy-out-run"), Value: aws.String(spec.Group)}}
	}
	return input
}

// Describe maps the ECS task state onto a job state.
func (r *Runner) Describe(ctx context.Context, jobID string) (copyout.JobState, error) {
	out, err := r.client.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(r.cfg.Cluster),
		Tasks:   []string{jobID},
	})
	if err != nil {
		return copyout.JobState{}, fmt.Errorf("describe task %s: %w", jobID, err)
	}
	for _, f := range out.Failures {
		if aws.ToString(f.Reason) == "MISSING" {
			return copyout.JobState{}, fmt.Errorf("%s: %w", jobID, ErrTaskMissing)
		}
	}
	if len(out.Tasks) == 0 {
		return copyout.JobState{}, fmt.Errorf("%s: %w", jobID, ErrTaskMissing)
	}

	state := r.jobState(out.Tasks[0])
	state.ID = jobID
	return state, nil
}

func (r *Runner) jobState(task types.Task) copyout.JobState {
	state := copyout.JobState{LogStream: r.LogStream(aws.ToString(task.TaskArn))}

	switch aws.ToString(task.LastStatus) {
	case "PROVISIONING", "PENDING", "ACTIVATING":
		state.Status = copyout.JobPending
		return state
	case "STOPPED":
	default:
		state.Status = copyout.JobRunning
		return state
	}

	container := r.container(task)
	stopCode := string(task.StopCode)
	stoppedReason := aws.ToString(task.StoppedReason)

	if container != nil && container.ExitCode != nil {
		state.ExitCode = container.ExitCode
	}

	switch {
	case stopCode == stopCodeSpotInterruption || stopCode == stopCodeTaskFailedToStart:
		state.Status = copyout.JobFailed
		state.FleetFailure = true
		state.Reason = fmt.Sprintf("%s: %s", stopCode, stoppedReason)
	case state.ExitCode == nil:
		state.Status = copyout.JobFailed
		state.FleetFailure = true
		state.Reason = "task stopped without container exit code"
		if stoppedReason != "" {
			state.Reason = fmt.Sprintf("%s: %s", state.Reason, stoppedReason)
		}
	case *state.ExitCode == 0:
		state.Status = copyout.JobSucceeded
	default:
		state.Status = copyout.JobFailed
		state.Reason = fmt.Sprintf("container exited with code %d", *state.ExitCode)
		if container.Reason != nil {
			state.Reason = fmt.Sprintf("%s: %s", state.Reason, aws.ToString(container.Reason))
		}
	}
	return state
}

// container returns the job container of the task, falling back to the first container.
func (r *Runner) container(task types.Task) *types.Container {
	for i := range task.Containers {
		if aws.ToString(task.Containers[i].Name) == r.cfg.ContainerName {
			return &task.Containers[i]
		}
	}
	if len(task.Containers) > 0 {
		return &task.Containers[0]
	}
	return nil
}

// Stop asks ECS to stop the task.
func (r *Runner) Stop(ctx context.Context, jobID string, reason string) error {
	_, err := r.client.StopTask(ctx, &ecs.StopTaskInput{
		Cluster: aws.String(r.cfg.Cluster),
		Task:    aws.String(jobID),
		Reason:  aws.String(truncate(reason, 255)),
	})
	if err != nil {
		return fmt.Errorf("stop task %s: %w", jobID, err)
	}
	return nil
}

// LogStream returns the awslogs stream name of the job container for a task ARN.
func (r *Runner) LogStream(taskArn string) string {
	if taskArn == "" || r.cfg.LogStreamPrefix == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s", r.cfg.LogStreamPrefix, r.cfg.ContainerName, TaskID(taskArn))
}

// TaskID returns the id part of a task ARN.
func TaskID(taskArn string) string {
	return taskArn[strings.LastIndex(taskArn, "/")+1:]
}

// StartedBy returns the ECS startedBy value for a run.
func StartedBy(group string) string {
	return truncate(startedByPrefix+group, maxStartedByLength)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
