// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/mutecomm/confirmations/common/constants"
)

// retryTimer drives the retry loop of a single engine. At most one timer is
// pending at a time, starting a running timer is a no-op.
type retryTimer struct {
	mutex   sync.Mutex
	timer   *time.Timer
	backoff *backoff.Backoff
}

func newRetryTimer(min time.Duration) *retryTimer {
	return &retryTimer{
		backoff: &backoff.Backoff{
			Min:    min,
			Max:    constants.MaximumRetryDelay,
			Factor: constants.RetryBackoffFactor,
			Jitter: true,
		},
	}
}

// Start schedules f after the next backoff delay and reports whether a timer
// was started. A suppressed start does not consume a backoff step.
func (rt *retryTimer) Start(f func()) bool {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()
	if rt.timer != nil {
		return false
	}
	rt.schedule(rt.backoff.Duration(), f)
	return true
}

// StartAfter schedules f after the given delay, bypassing the backoff. It
// reports whether a timer was started.
func (rt *retryTimer) StartAfter(delay time.Duration, f func()) bool {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()
	if rt.timer != nil {
		return false
	}
	rt.schedule(delay, f)
	return true
}

// schedule arms the timer. Callers hold the mutex.
func (rt *retryTimer) schedule(delay time.Duration, f func()) {
	if delay < 0 {
		delay = 0
	}
	rt.timer = time.AfterFunc(delay, func() {
		rt.mutex.Lock()
		rt.timer = nil
		rt.mutex.Unlock()
		f()
	})
}

// Stop cancels a pending timer, if any.
func (rt *retryTimer) Stop() {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()
	if rt.timer != nil {
		rt.timer.Stop()
		rt.timer = nil
	}
}

// Running reports whether a timer is pending.
func (rt *retryTimer) Running() bool {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()
	return rt.timer != nil
}

// Reset resets the backoff to its base delay.
func (rt *retryTimer) Reset() {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()
	rt.backoff.Reset()
}
