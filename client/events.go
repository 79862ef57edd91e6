// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

// Engine outcome topics published on the client's event bus. Composers
// subscribe to the topics they care about instead of implementing delegate
// interfaces.
const (
	// TopicRefillSucceeded is published after unblinded tokens were added
	// to the token store. Argument: number of tokens added (int).
	TopicRefillSucceeded = "confirmations:refill:succeeded"
	// TopicRefillFailed is published after a refill cycle failed.
	TopicRefillFailed = "confirmations:refill:failed"
	// TopicRefillRetrying is published when a failed refill is re-attempted.
	TopicRefillRetrying = "confirmations:refill:retrying"

	// TopicRedeemSucceeded is published after a confirmation was fully
	// redeemed. Argument: the Confirmation.
	TopicRedeemSucceeded = "confirmations:redeem:succeeded"
	// TopicRedeemFailed is published after a confirmation redemption
	// failed and was queued for retry. Argument: the Confirmation.
	TopicRedeemFailed = "confirmations:redeem:failed"

	// TopicPaymentSucceeded is published after payment tokens were
	// redeemed. Argument: number of tokens redeemed (int).
	TopicPaymentSucceeded = "confirmations:payment:succeeded"
	// TopicPaymentFailed is published after a first payment token
	// redemption attempt failed.
	TopicPaymentFailed = "confirmations:payment:failed"
	// TopicPaymentRetrying is published when a failed payment token
	// redemption is re-attempted.
	TopicPaymentRetrying = "confirmations:payment:retrying"

	// TopicTransactionsChanged is published after the transaction history
	// changed.
	TopicTransactionsChanged = "confirmations:transactions:changed"
)
