// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package constants defines common confirmations constants.
package constants

import "time"

var (
	// ConfirmationsServerURL is the URL of the ad confirmations server
	ConfirmationsServerURL = "https://ads-serve.mute.one"
	// TokenPath is the URI path prefix for signed token requests
	TokenPath = "/v1/confirmation/token/"
	// ConfirmationPath is the URI path prefix for confirmation submissions
	ConfirmationPath = "/v1/confirmation/"
	// PaymentPath is the URI path prefix for payment token redemptions
	PaymentPath = "/v1/confirmation/payment/"
	// GrantsSummaryPath is the URI path for the ad grants summary
	GrantsSummaryPath = "/v1/promotions/ads/grants/summary"
)

const (
	// MinimumUnblindedTokens is the token count below which a refill starts
	MinimumUnblindedTokens = 20
	// MaximumUnblindedTokens is the token count a refill fills up to
	MaximumUnblindedTokens = 50
	// RefillRetryAfter is the base delay before a failed refill is retried
	RefillRetryAfter = 15 * time.Second
	// FailedConfirmationsRetryAfter is the base delay between confirmation
	// queue submissions
	FailedConfirmationsRetryAfter = 5 * time.Minute
	// PaymentTokenRedemptionInterval is the period between payment token
	// redemptions
	PaymentTokenRedemptionInterval = 24 * time.Hour
	// PaymentTokenRedemptionRetryAfter is the base delay before a failed
	// payment token redemption is retried
	PaymentTokenRedemptionRetryAfter = time.Minute
	// AdRewardsRetryAfter is the base delay before a failed ad rewards
	// reconciliation is retried
	AdRewardsRetryAfter = time.Minute
	// RetryBackoffFactor grows retry delays on repeated failures
	RetryBackoffFactor = 2.0
	// MaximumRetryDelay caps all retry timers
	MaximumRetryDelay = time.Hour
	// NextPaymentDay is the day of the month ad rewards are paid out
	NextPaymentDay = 5
	// StateKey is the storage key of the serialized state document
	StateKey = "confirmations.json"
)
