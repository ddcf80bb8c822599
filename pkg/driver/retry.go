// Copyright 2019 Tad Lebeck
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package driver

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry defaults
const (
	RetryAttemptsDefault   = 3
	RetryDelayDefault      = time.Second
	RetryMultiplierDefault = 2.0
	RetryMaxDelayDefault   = 30 * time.Second
)

// RetryArgs control Retry
type RetryArgs struct {
	Attempts   int
	Delay      time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	// Retryable selects the errors to retry; IsRetryable if not set
	Retryable func(error) bool
}

func (ra *RetryArgs) sanitize() *RetryArgs {
	r := RetryArgs{}
	if ra != nil {
		r = *ra
	}
	if r.Attempts <= 0 {
		r.Attempts = RetryAttemptsDefault
	}
	if r.Delay <= 0 {
		r.Delay = RetryDelayDefault
	}
	if r.Multiplier < 1 {
		r.Multiplier = RetryMultiplierDefault
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = RetryMaxDelayDefault
	}
	if r.Retryable == nil {
		r.Retryable = IsRetryable
	}
	return &r
}

// newBackOff returns a jitter free exponential backoff; a zero maxElapsed never stops
func newBackOff(initial time.Duration, mult float64, max, maxElapsed time.Duration) *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.RandomizationFactor = 0
	eb.Multiplier = mult
	eb.MaxInterval = max
	eb.MaxElapsedTime = maxElapsed
	eb.Reset()
	return eb
}

// Retry calls fn until it succeeds, returns an error that is not retryable or the attempts are used up
func Retry(ctx context.Context, ra *RetryArgs, fn func(ctx context.Context) error) error {
	r := ra.sanitize()
	b := backoff.WithContext(backoff.WithMaxRetries(newBackOff(r.Delay, r.Multiplier, r.MaxDelay, 0), uint64(r.Attempts-1)), ctx)
	err := backoff.Retry(func() error {
		err := fn(ctx)
		if err != nil && !r.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	if err != nil && ctx.Err() != nil {
		return WrapError(CodeTimeout, "retry", ctx.Err())
	}
	return err
}

// Poll defaults
const (
	PollIntervalDefault    = 2 * time.Second
	PollMaxIntervalDefault = 30 * time.Second
	PollTimeoutDefault     = 10 * time.Minute
)

// PollArgs control Poll
type PollArgs struct {
	Op          string
	Interval    time.Duration
	MaxInterval time.Duration
	Backoff     float64
	Timeout     time.Duration
}

var errNotDone = errors.New("not done")

// Poll calls fn until it reports done, returns an error or the timeout expires.
// The first call is made immediately.
func Poll(ctx context.Context, pa *PollArgs, fn func(ctx context.Context) (bool, error)) error {
	p := PollArgs{}
	if pa != nil {
		p = *pa
	}
	if p.Interval <= 0 {
		p.Interval = PollIntervalDefault
	}
	if p.MaxInterval < p.Interval {
		p.MaxInterval = PollMaxIntervalDefault
		if p.MaxInterval < p.Interval {
			p.MaxInterval = p.Interval
		}
	}
	if p.Backoff < 1 {
		p.Backoff = 1
	}
	if p.Timeout <= 0 {
		p.Timeout = PollTimeoutDefault
	}
	if p.Op == "" {
		p.Op = "poll"
	}
	b := backoff.WithContext(newBackOff(p.Interval, p.Backoff, p.MaxInterval, p.Timeout), ctx)
	err := backoff.Retry(func() error {
		done, err := fn(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !done {
			return errNotDone
		}
		return nil
	}, b)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return WrapError(CodeTimeout, p.Op, ctx.Err())
	case err == errNotDone:
		return NewError(CodeTimeout, p.Op, "timed out after "+p.Timeout.String())
	}
	return err
}
