package model

import (
	"fmt"
	"time"

	"media-gen-orchestrator/internal/domain"
)

// Policy holds the timing parameters of the job lifecycle.
type Policy struct {
	InitialPollDelay  time.Duration
	MaxPollInterval   time.Duration
	SubmitBackoff     time.Duration
	MaxSubmitAttempts int
	MaxLifetime       time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		InitialPollDelay:  5 * time.Second,
		MaxPollInterval:   60 * time.Second,
		SubmitBackoff:     2 * time.Second,
		MaxSubmitAttempts: 4,
		MaxLifetime:       30 * time.Minute,
	}
}

func (p Policy) Validate() error {
	switch {
	case p.InitialPollDelay <= 0:
		return fmt.Errorf("%w: initial poll delay must be positive", domain.ErrInvalidArgument)
	case p.MaxPollInterval < p.InitialPollDelay:
		return fmt.Errorf("%w: max poll interval below initial delay", domain.ErrInvalidArgument)
	case p.SubmitBackoff < 0:
		return fmt.Errorf("%w: submit backoff must not be negative", domain.ErrInvalidArgument)
	case p.MaxSubmitAttempts < 1:
		return fmt.Errorf("%w: max submit attempts must be at least 1", domain.ErrInvalidArgument)
	case p.MaxLifetime <= 0:
		return fmt.Errorf("%w: max lifetime must be positive", domain.ErrInvalidArgument)
	}
	return nil
}

// PollDelay is the wait after the polls-th poll (0 = right after submission):
// InitialPollDelay doubled per poll, capped at MaxPollInterval.
func (p Policy) PollDelay(polls int) time.Duration {
	d := p.InitialPollDelay
	for i := 0; i < polls; i++ {
		d *= 2
		if d >= p.MaxPollInterval {
			return p.MaxPollInterval
		}
	}
	if d > p.MaxPollInterval {
		return p.MaxPollInterval
	}
	return d
}

// SubmitDelay is the linear backoff before submission attempt+1.
func (p Policy) SubmitDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.SubmitBackoff * time.Duration(attempt)
}
