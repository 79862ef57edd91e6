// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"time"

	"github.com/mutecomm/confirmations/common/constants"
	"github.com/mutecomm/confirmations/log"
	"github.com/shopspring/decimal"
)

// ReconcileAdsRewards fetches the cleared payments and the ad grants
// balance from the server and persists them. Failures are retried on a
// backoff timer.
func (c *Client) ReconcileAdsRewards() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.reconcileAdsRewards()
}

func (c *Client) reconcileAdsRewards() error {
	if !c.wallet.Valid() || c.rewardsRPC == nil {
		return ErrInvalidWallet
	}
	payments, err := c.rewardsRPC.GetPayments()
	if err != nil {
		c.LastError = err
		return c.scheduleRewardsRetry()
	}
	grants, err := c.rewardsRPC.GetGrantsSummary()
	if err != nil {
		c.LastError = err
		return c.scheduleRewardsRetry()
	}
	c.adsRewards = AdsRewards{
		GrantsBalance: grants.Amount,
		Payments:      payments,
	}
	c.rewardsTimer.Reset()
	c.saveState()
	log.Infof("client: reconciled ads rewards, %d payments", len(payments))
	return nil
}

func (c *Client) scheduleRewardsRetry() error {
	c.rewardsTimer.Start(func() {
		if err := c.ReconcileAdsRewards(); err != nil && err != ErrRetry {
			log.Errorf("client: ads rewards reconciliation retry: %s", err)
		}
	})
	return ErrRetry
}

// EstimatedPendingRewards returns the reconciled balance plus the value of
// unredeemed transactions.
func (c *Client) EstimatedPendingRewards() decimal.Decimal {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	total := c.adsRewards.GrantsBalance
	for _, payment := range c.adsRewards.Payments {
		total = total.Add(payment.Balance)
	}
	unredeemed := EstimatedPendingRewardsForTransactions(c.unredeemedTransactions())
	return total.Add(decimal.NewFromFloat(unredeemed))
}

// NextPaymentDate returns the next ad rewards payout date after now.
// Rewards are paid on a fixed day of the month; a balance cleared for the
// previous month is paid this month, anything later waits for the next
// payout.
func (c *Client) NextPaymentDate(now time.Time) time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	now = now.UTC()
	thisMonth := time.Date(now.Year(), now.Month(), constants.NextPaymentDay,
		0, 0, 0, 0, time.UTC)
	previousMonth := time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, time.UTC)
	if now.Before(thisMonth) && c.hasPaymentForMonth(previousMonth.Format("2006-01")) {
		return thisMonth
	}
	return thisMonth.AddDate(0, 1, 0)
}

func (c *Client) hasPaymentForMonth(month string) bool {
	for _, payment := range c.adsRewards.Payments {
		if payment.Month == month && payment.TransactionCount > 0 {
			return true
		}
	}
	return false
}
