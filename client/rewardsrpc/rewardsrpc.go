// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rewardsrpc implements the ad rewards balance calls to the
// confirmation server.
package rewardsrpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mutecomm/confirmations/common/constants"
	"github.com/mutecomm/confirmations/common/jsonclient"
	"github.com/mutecomm/confirmations/common/walletauth"
	"github.com/shopspring/decimal"
)

var (
	// ErrParams is returned if a call returned bad parameters.
	ErrParams = errors.New("rewardsrpc: bad RPC parameters")
	// ErrServer is returned if the server replied with an unexpected status.
	ErrServer = errors.New("rewardsrpc: server error")
)

// DefaultClientFactory is the default factory for new clients.
var DefaultClientFactory = jsonclient.New

// ServiceURL is the default URL for the confirmation server.
var ServiceURL = constants.ConfirmationsServerURL

// Payment is the cleared rewards balance for one calendar month.
type Payment struct {
	Balance          decimal.Decimal // earned balance for the month
	Month            string          // "2006-01"
	TransactionCount uint64          // redeemed transactions in the month
}

// GrantsSummary is the unclaimed ad grants balance of a wallet.
type GrantsSummary struct {
	Type      string          // grant type, "ads"
	Amount    decimal.Decimal // unclaimed amount
	LastClaim string          // RFC 3339 timestamp of the last claim, if any
}

// RewardsClient implements an ad rewards balance client.
type RewardsClient struct {
	ClientFactory func(string, []byte) (*jsonclient.URLClient, error)
	ServerCA      []byte                // The CA of the confirmation server, if any
	Wallet        walletauth.WalletInfo // Wallet used to sign requests
}

// New returns a new ad rewards client.
func New(wallet walletauth.WalletInfo, cacert []byte) *RewardsClient {
	rc := new(RewardsClient)
	rc.ClientFactory = DefaultClientFactory
	rc.ServerCA = cacert
	rc.Wallet = wallet
	return rc
}

// GetPayments gets the per-month cleared payments of the wallet.
func (rc *RewardsClient) GetPayments() ([]Payment, error) {
	client, err := rc.ClientFactory(ServiceURL, rc.ServerCA)
	if err != nil {
		return nil, err
	}
	headers, err := rc.Wallet.RequestHeaders("")
	if err != nil {
		return nil, err
	}
	status, responseBody, err := client.Request(http.MethodGet,
		constants.PaymentPath+rc.Wallet.PaymentID, headers, "")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, ErrServer
	}
	var list []map[string]interface{}
	if err := json.Unmarshal(responseBody, &list); err != nil {
		return nil, ErrParams
	}
	payments := make([]Payment, 0, len(list))
	for _, data := range list {
		var p Payment
		balance, ok := data["balance"].(string)
		if !ok {
			return nil, ErrParams
		}
		p.Balance, err = decimal.NewFromString(balance)
		if err != nil {
			return nil, ErrParams
		}
		p.Month, ok = data["month"].(string)
		if !ok {
			return nil, ErrParams
		}
		transactionCount, ok := data["transactionCount"].(string)
		if !ok {
			return nil, ErrParams
		}
		count, err := decimal.NewFromString(transactionCount)
		if err != nil {
			return nil, ErrParams
		}
		p.TransactionCount = uint64(count.IntPart())
		payments = append(payments, p)
	}
	return payments, nil
}

// GetGrantsSummary gets the unclaimed ad grants balance of the wallet.
func (rc *RewardsClient) GetGrantsSummary() (*GrantsSummary, error) {
	client, err := rc.ClientFactory(ServiceURL, rc.ServerCA)
	if err != nil {
		return nil, err
	}
	status, responseBody, err := client.Request(http.MethodGet,
		constants.GrantsSummaryPath+"?paymentId="+rc.Wallet.PaymentID, nil, "")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, ErrServer
	}
	data, err := jsonclient.ParseDict(responseBody)
	if err != nil {
		return nil, ErrParams
	}
	var gs GrantsSummary
	var ok bool
	gs.Type, ok = data["type"].(string)
	if !ok {
		return nil, ErrParams
	}
	amount, ok := data["amount"].(string)
	if !ok {
		return nil, ErrParams
	}
	gs.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, ErrParams
	}
	gs.LastClaim, _ = data["lastClaim"].(string) // optional
	return &gs, nil
}
