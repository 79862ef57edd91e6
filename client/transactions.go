// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"time"

	"github.com/mutecomm/confirmations/log"
)

// AppendTransactionToHistory appends a ledger entry for a redeemed
// confirmation and notifies observers that the history changed.
func (c *Client) AppendTransactionToHistory(estimatedRedemptionValue float64, confirmationType ConfirmationType) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.appendTransaction(estimatedRedemptionValue, confirmationType)
}

// appendTransaction implements AppendTransactionToHistory. Callers hold
// the client mutex.
func (c *Client) appendTransaction(estimatedRedemptionValue float64, confirmationType ConfirmationType) {
	c.transactions = append(c.transactions, TransactionInfo{
		Timestamp:                time.Now(),
		EstimatedRedemptionValue: estimatedRedemptionValue,
		Type:                     confirmationType,
	})
	c.saveState()
	c.bus.Publish(TopicTransactionsChanged)
}

// GetTransactionHistory returns the ledger entries with from <= timestamp
// < to, in original order.
func (c *Client) GetTransactionHistory(from, to time.Time) []TransactionInfo {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var transactions []TransactionInfo
	for _, transaction := range c.transactions {
		if transaction.Timestamp.Before(from) || !transaction.Timestamp.Before(to) {
			continue
		}
		transactions = append(transactions, transaction)
	}
	return transactions
}

// GetUnredeemedTransactions returns the ledger tail not yet confirmed by
// the server: the last N entries, where N is the number of payment tokens
// held.
func (c *Client) GetUnredeemedTransactions() []TransactionInfo {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.unredeemedTransactions()
}

// unredeemedTransactions implements GetUnredeemedTransactions. The tail
// length is positional, there is no correlation key between a ledger entry
// and a payment token. Callers hold the client mutex.
func (c *Client) unredeemedTransactions() []TransactionInfo {
	count := c.paymentTokens.Count()
	if count == 0 {
		return nil
	}
	if count > len(c.transactions) {
		log.Warnf("client: %d payment tokens but only %d transactions",
			count, len(c.transactions))
		count = len(c.transactions)
	}
	tail := c.transactions[len(c.transactions)-count:]
	return append([]TransactionInfo(nil), tail...)
}

// EstimatedPendingRewardsForTransactions sums the positive redemption
// values of transactions.
func EstimatedPendingRewardsForTransactions(transactions []TransactionInfo) float64 {
	var total float64
	for _, transaction := range transactions {
		if transaction.EstimatedRedemptionValue > 0 {
			total += transaction.EstimatedRedemptionValue
		}
	}
	return total
}

// GetAdNotificationsReceivedThisMonth counts the viewed-ad transactions
// with a positive redemption value in the current UTC month.
func (c *Client) GetAdNotificationsReceivedThisMonth() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	now := time.Now().UTC()
	var count int
	for _, transaction := range c.transactions {
		if transaction.Type != ConfirmationTypeViewed {
			continue
		}
		if transaction.EstimatedRedemptionValue <= 0 {
			continue
		}
		timestamp := transaction.Timestamp.UTC()
		if timestamp.Year() == now.Year() && timestamp.Month() == now.Month() {
			count++
		}
	}
	return count
}
