// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"encoding/json"
	"time"

	"github.com/mutecomm/confirmations/client/redeemrpc"
	"github.com/mutecomm/confirmations/common/constants"
	"github.com/mutecomm/confirmations/common/tokencrypto"
	"github.com/mutecomm/confirmations/log"
)

// schedulePaymentTokenRedemption arms the timer for the next payment token
// redemption cycle. Callers hold the client mutex.
func (c *Client) schedulePaymentTokenRedemption() {
	delay := time.Until(c.nextTokenRedemptionDate)
	c.paymentTimer.StartAfter(delay, func() {
		if err := c.RedeemPaymentTokens(); err != nil && err != ErrRetry {
			log.Errorf("client: payment token redemption: %s", err)
		}
	})
}

// RedeemPaymentTokens redeems all held payment tokens for value in one
// batch. On success the next redemption cycle is scheduled one payout
// interval ahead; on failure the same token set is retried after a backoff
// delay, the signed proofs stay valid.
func (c *Client) RedeemPaymentTokens() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.redeemPaymentTokens()
}

func (c *Client) redeemPaymentTokens() error {
	if !c.wallet.Valid() {
		return ErrInvalidWallet
	}
	tokens := c.paymentTokens.AllTokens()
	if len(tokens) == 0 {
		log.Debugf("client: no payment tokens to redeem")
		c.advancePaymentSchedule()
		return nil
	}
	log.Infof("client: redeeming %d payment tokens", len(tokens))
	payload, err := json.Marshal(struct {
		PaymentID string `json:"paymentId"`
	}{PaymentID: c.wallet.PaymentID})
	if err != nil {
		c.LastError = err
		return ErrFatal
	}
	credentials := make([]redeemrpc.PaymentCredential, 0, len(tokens))
	for _, token := range tokens {
		credential, err := tokencrypto.DeriveCredential(token.Value, string(payload))
		if err != nil {
			c.LastError = err
			return ErrFatal
		}
		credentials = append(credentials, redeemrpc.PaymentCredential{
			Credential: *credential,
			PublicKey:  token.PublicKey,
		})
	}
	if err := c.redeemRPC.RedeemPaymentTokens(c.wallet, credentials); err != nil {
		c.LastError = err
		return c.schedulePaymentRetry()
	}
	c.paymentTokens.RemoveTokens(tokens)
	c.paymentRetrying = false
	c.paymentTimer.Reset()
	c.advancePaymentSchedule()
	c.bus.Publish(TopicPaymentSucceeded, len(tokens))
	return nil
}

// advancePaymentSchedule moves the next redemption date one payout
// interval ahead and arms the timer.
func (c *Client) advancePaymentSchedule() {
	c.nextTokenRedemptionDate = time.Now().Add(constants.PaymentTokenRedemptionInterval)
	c.saveState()
	c.schedulePaymentTokenRedemption()
}

// schedulePaymentRetry distinguishes a fresh failure from one that is
// still unresolved after earlier retries.
func (c *Client) schedulePaymentRetry() error {
	if !c.paymentRetrying {
		c.paymentRetrying = true
		c.bus.Publish(TopicPaymentFailed)
	} else {
		c.bus.Publish(TopicPaymentRetrying)
	}
	c.paymentTimer.Start(func() {
		if err := c.RedeemPaymentTokens(); err != nil && err != ErrRetry {
			log.Errorf("client: payment token redemption retry: %s", err)
		}
	})
	return ErrRetry
}
