// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tokenrpc implements the signed token refill calls to the
// confirmation server.
package tokenrpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mutecomm/confirmations/common/constants"
	"github.com/mutecomm/confirmations/common/jsonclient"
	"github.com/mutecomm/confirmations/common/walletauth"
)

var (
	// ErrParams is returned if a call returned bad parameters.
	ErrParams = errors.New("tokenrpc: bad RPC parameters")
	// ErrServer is returned if the server replied with an unexpected status.
	ErrServer = errors.New("tokenrpc: server error")
)

// DefaultClientFactory is the default factory for new clients.
var DefaultClientFactory = jsonclient.New

// ServiceURL is the default URL for the confirmation server.
var ServiceURL = constants.ConfirmationsServerURL

// TokenClient implements a signed token refill client.
type TokenClient struct {
	ClientFactory func(string, []byte) (*jsonclient.URLClient, error)
	ServerCA      []byte                 // The CA of the confirmation server, if any
	Wallet        walletauth.WalletInfo  // Wallet used to sign requests
}

// New returns a new token refill client.
func New(wallet walletauth.WalletInfo, cacert []byte) *TokenClient {
	tc := new(TokenClient)
	tc.ClientFactory = DefaultClientFactory
	tc.ServerCA = cacert
	tc.Wallet = wallet
	return tc
}

// RequestSignedTokens posts blinded tokens to the server for signing. The
// returned nonce binds the follow-up FetchSignedTokens call to this request.
func (tc *TokenClient) RequestSignedTokens(blindedTokens []string) (nonce string, err error) {
	client, err := tc.ClientFactory(ServiceURL, tc.ServerCA)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(struct {
		BlindedTokens []string `json:"blindedTokens"`
	}{BlindedTokens: blindedTokens})
	if err != nil {
		return "", err
	}
	headers, err := tc.Wallet.RequestHeaders(string(body))
	if err != nil {
		return "", err
	}
	status, responseBody, err := client.Request(http.MethodPost,
		constants.TokenPath+tc.Wallet.PaymentID, headers, string(body))
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", ErrServer
	}
	data, err := jsonclient.ParseDict(responseBody)
	if err != nil {
		return "", ErrParams
	}
	nonce, ok := data["nonce"].(string)
	if !ok || nonce == "" {
		return "", ErrParams
	}
	return nonce, nil
}

// FetchSignedTokens gets the signed tokens for a previously returned nonce.
// The response carries the server's current signing key, the batch DLEQ
// proof and the signed tokens positionally matching the blinded tokens sent.
func (tc *TokenClient) FetchSignedTokens(nonce string) (publicKey, batchProof string, signedTokens []string, err error) {
	client, err := tc.ClientFactory(ServiceURL, tc.ServerCA)
	if err != nil {
		return "", "", nil, err
	}
	status, responseBody, err := client.Request(http.MethodGet,
		constants.TokenPath+tc.Wallet.PaymentID+"?nonce="+nonce, nil, "")
	if err != nil {
		return "", "", nil, err
	}
	if status != http.StatusOK {
		return "", "", nil, ErrServer
	}
	data, err := jsonclient.ParseDict(responseBody)
	if err != nil {
		return "", "", nil, ErrParams
	}
	publicKey, ok := data["publicKey"].(string)
	if !ok {
		return "", "", nil, ErrParams
	}
	batchProof, ok = data["batchProof"].(string)
	if !ok {
		return "", "", nil, ErrParams
	}
	signedTokensValue, ok := data["signedTokens"].([]interface{})
	if !ok {
		return "", "", nil, ErrParams
	}
	signedTokens = make([]string, 0, len(signedTokensValue))
	for _, value := range signedTokensValue {
		signedToken, ok := value.(string)
		if !ok {
			return "", "", nil, ErrParams
		}
		signedTokens = append(signedTokens, signedToken)
	}
	return publicKey, batchProof, signedTokens, nil
}
