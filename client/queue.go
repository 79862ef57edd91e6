// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"github.com/mutecomm/confirmations/log"
)

// FailedConfirmationCount returns the number of confirmations queued for
// retry.
func (c *Client) FailedConfirmationCount() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.failedConfirmations)
}

// appendToQueue persists a confirmation for retry and makes sure the retry
// timer is running. Callers hold the client mutex.
func (c *Client) appendToQueue(conf Confirmation) {
	c.failedConfirmations = append(c.failedConfirmations, conf)
	c.saveState()
	c.startQueueTimer()
}

// removeFromQueue removes the confirmation with the given id. Removing an
// unknown id returns ErrNotFound, the queue is left unchanged.
func (c *Client) removeFromQueue(id string) error {
	for i, conf := range c.failedConfirmations {
		if conf.ID == id {
			c.failedConfirmations = append(c.failedConfirmations[:i],
				c.failedConfirmations[i+1:]...)
			c.saveState()
			return nil
		}
	}
	return ErrNotFound
}

func (c *Client) startQueueTimer() {
	c.queueTimer.Start(c.processQueue)
}

// processQueue retries the confirmation at the head of the queue. One
// submission is in flight at a time; the timer reschedules itself until
// the queue is drained.
func (c *Client) processQueue() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if len(c.failedConfirmations) == 0 {
		return
	}
	conf := c.failedConfirmations[0]
	if conf.Created {
		// The server already accepted this confirmation, only the
		// payment token fetch is outstanding. It stays queued until
		// the fetch succeeds.
		if err := c.redeemConfirmation(&conf, ""); err != nil {
			c.bus.Publish(TopicRedeemFailed, conf)
		}
	} else {
		// The confirmation was never accepted. Its token is spent for
		// good, rebuild the confirmation with a freshly spent token.
		// The rebuilt confirmation queues itself on submission failure.
		if err := c.removeFromQueue(conf.ID); err != nil {
			log.Errorf("client: failed to remove confirmation %s from queue", conf.ID)
		}
		if err := c.redeem(conf.CreativeInstanceID, conf.Type); err != nil && err != ErrRetry {
			// Rebuilding failed before anything went on the wire. Keep
			// the confirmation queued so it retries once tokens are
			// available again.
			log.Warnf("client: cannot retry confirmation %s: %s", conf.ID, err)
			c.appendToQueue(conf)
			if err == ErrNoTokens {
				if err := c.refill(); err != nil && err != ErrRetry {
					log.Warnf("client: refill: %s", err)
				}
			}
		}
	}
	if len(c.failedConfirmations) > 0 {
		c.startQueueTimer()
	} else {
		c.queueTimer.Reset()
	}
}
