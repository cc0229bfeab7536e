package model

import (
	"fmt"
	"time"

	"media-gen-orchestrator/internal/domain"
)

// Action is the single next step the scheduler takes for a job.
type Action string

const (
	ActionNone    Action = "none"
	ActionSubmit  Action = "submit"
	ActionPoll    Action = "poll"
	ActionExpire  Action = "expire"
	ActionRecover Action = "recover"
)

var transitions = map[JobState][]JobState{
	JobStateQueued:     {JobStateSubmitting, JobStateFailed},
	JobStateSubmitting: {JobStateProcessing, JobStateQueued, JobStateFailed},
	JobStateProcessing: {JobStateProcessing, JobStateSucceeded, JobStateFailed},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to JobState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckMutation guards store updates: terminal records are frozen, state
// changes must follow the lifecycle and the result must be well formed.
func CheckMutation(before, after *GenerationJob) error {
	if after.ID != before.ID {
		return fmt.Errorf("%w: job id changed", domain.ErrInvalidArgument)
	}
	if before.State.IsTerminal() {
		return domain.ErrJobTerminal
	}
	if after.State != before.State && !CanTransition(before.State, after.State) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, before.State, after.State)
	}
	return after.Validate()
}

// NextAction decides what the scheduler should do with the job at now.
// A job seen in submitting was interrupted mid-call and needs recovery.
func (j *GenerationJob) NextAction(now time.Time, p Policy) Action {
	if j.State.IsTerminal() {
		return ActionNone
	}
	if !now.Before(j.Deadline(p)) {
		return ActionExpire
	}
	switch j.State {
	case JobStateSubmitting:
		return ActionRecover
	case JobStateQueued:
		if !now.Before(j.NextPollAt) {
			return ActionSubmit
		}
	case JobStateProcessing:
		if !now.Before(j.NextPollAt) {
			return ActionPoll
		}
	}
	return ActionNone
}

// BeginSubmit marks the job as being submitted. It is persisted before the
// provider is called so a crash never hides an in-flight submission.
func (j *GenerationJob) BeginSubmit(now time.Time) error {
	if err := j.expect(JobStateQueued); err != nil {
		return err
	}
	j.State = JobStateSubmitting
	j.SubmitAttempts++
	j.touch(now)
	return nil
}

func (j *GenerationJob) CompleteSubmit(externalID string, now time.Time, p Policy) error {
	if err := j.expect(JobStateSubmitting); err != nil {
		return err
	}
	if externalID == "" {
		j.fail(ErrorKindInvalidProviderResponse, "provider accepted the job without an id", false, now)
		return nil
	}
	j.State = JobStateProcessing
	j.ExternalID = externalID
	j.LastError = ""
	j.NextPollAt = j.clampToDeadline(now.Add(p.PollDelay(0)), p)
	j.touch(now)
	return nil
}

func (j *GenerationJob) FailSubmit(message string, retryable bool, now time.Time, p Policy) error {
	if err := j.expect(JobStateSubmitting); err != nil {
		return err
	}
	switch {
	case !retryable:
		j.fail(ErrorKindSubmission, message, false, now)
	case j.SubmitAttempts >= p.MaxSubmitAttempts:
		msg := fmt.Sprintf("gave up after %d attempts: %s", j.SubmitAttempts, message)
		j.fail(ErrorKindSubmissionExhausted, msg, true, now)
	default:
		j.State = JobStateQueued
		j.LastError = message
		j.NextPollAt = j.clampToDeadline(now.Add(p.SubmitDelay(j.SubmitAttempts)), p)
		j.touch(now)
	}
	return nil
}

// ApplyPoll folds a normalized provider status into the job.
func (j *GenerationJob) ApplyPoll(st NormalizedStatus, now time.Time, p Policy) error {
	if err := j.expect(JobStateProcessing); err != nil {
		return err
	}
	j.PollAttempts++
	switch st.Kind {
	case StatusKindPending, StatusKindProcessing:
		if st.Progress > j.Progress {
			j.Progress = st.Progress
		}
		j.LastError = ""
		j.reschedulePoll(now, p)
	case StatusKindSucceeded:
		if st.ArtifactURL == "" {
			j.fail(ErrorKindInvalidProviderResponse, "provider reported success without an artifact url", false, now)
			return nil
		}
		j.State = JobStateSucceeded
		j.ArtifactURL = st.ArtifactURL
		j.Progress = 100
		j.LastError = ""
		j.touch(now)
	case StatusKindFailed:
		j.fail(ErrorKindProviderFailed, st.Message, st.Retryable, now)
	default:
		j.fail(ErrorKindInvalidProviderResponse, fmt.Sprintf("unknown status kind %q", st.Kind), false, now)
	}
	return nil
}

// ApplyPollError records a poll that did not produce a status.
func (j *GenerationJob) ApplyPollError(message string, retryable bool, now time.Time, p Policy) error {
	if err := j.expect(JobStateProcessing); err != nil {
		return err
	}
	j.PollAttempts++
	if !retryable {
		j.fail(ErrorKindPoll, message, false, now)
		return nil
	}
	j.LastError = message
	j.reschedulePoll(now, p)
	return nil
}

func (j *GenerationJob) FailInvalidResponse(message string, now time.Time) error {
	if err := j.expect(JobStateSubmitting, JobStateProcessing); err != nil {
		return err
	}
	j.fail(ErrorKindInvalidProviderResponse, message, false, now)
	return nil
}

// Expire fails the job with a timeout regardless of what the provider last said.
func (j *GenerationJob) Expire(now time.Time, p Policy) error {
	if j.State.IsTerminal() {
		return domain.ErrJobTerminal
	}
	j.fail(ErrorKindTimeout, (&domain.TimeoutError{Lifetime: p.MaxLifetime}).Error(), false, now)
	return nil
}

// Recover resolves an interrupted submission: without an external id the job is
// queued again, otherwise it resumes polling.
func (j *GenerationJob) Recover(now time.Time) error {
	if err := j.expect(JobStateSubmitting); err != nil {
		return err
	}
	if j.ExternalID != "" {
		j.State = JobStateProcessing
	} else {
		j.State = JobStateQueued
	}
	j.NextPollAt = now
	j.touch(now)
	return nil
}

func (j *GenerationJob) expect(states ...JobState) error {
	if j.State.IsTerminal() {
		return domain.ErrJobTerminal
	}
	for _, s := range states {
		if j.State == s {
			return nil
		}
	}
	return fmt.Errorf("%w: job %s is %s", domain.ErrIllegalTransition, j.ID, j.State)
}

func (j *GenerationJob) fail(kind ErrorKind, message string, retryable bool, now time.Time) {
	if message == "" {
		message = string(kind)
	}
	j.State = JobStateFailed
	j.ArtifactURL = ""
	j.Error = &JobError{Kind: kind, Message: message, Retryable: retryable}
	j.touch(now)
}

func (j *GenerationJob) reschedulePoll(now time.Time, p Policy) {
	j.NextPollAt = j.clampToDeadline(now.Add(p.PollDelay(j.PollAttempts)), p)
	j.touch(now)
}

func (j *GenerationJob) clampToDeadline(t time.Time, p Policy) time.Time {
	if d := j.Deadline(p); t.After(d) {
		return d
	}
	return t
}

func (j *GenerationJob) touch(now time.Time) {
	j.UpdatedAt = now
}
