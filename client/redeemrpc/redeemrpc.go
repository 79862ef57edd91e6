// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package redeemrpc implements the confirmation and payment token
// redemption calls to the confirmation server.
package redeemrpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mutecomm/confirmations/common/constants"
	"github.com/mutecomm/confirmations/common/jsonclient"
	"github.com/mutecomm/confirmations/common/tokencrypto"
	"github.com/mutecomm/confirmations/common/walletauth"
)

var (
	// ErrParams is returned if a call returned bad parameters.
	ErrParams = errors.New("redeemrpc: bad RPC parameters")
	// ErrServer is returned if the server replied with an unexpected status.
	ErrServer = errors.New("redeemrpc: server error")
	// ErrNotFound is returned if a payment token is not available yet.
	ErrNotFound = errors.New("redeemrpc: not found")
)

// DefaultClientFactory is the default factory for new clients.
var DefaultClientFactory = jsonclient.New

// ServiceURL is the default URL for the confirmation server.
var ServiceURL = constants.ConfirmationsServerURL

// PaymentToken is a signed payment token issued for a redeemed
// confirmation.
type PaymentToken struct {
	ID           string   // confirmation ID the token was issued for
	PublicKey    string   // signing key of the payment token issuer
	BatchProof   string   // batch DLEQ proof over the signed token
	SignedTokens []string // signed blinded payment tokens
}

// PaymentCredential is a redemption credential for a single payment token.
type PaymentCredential struct {
	Credential tokencrypto.Credential `json:"credential"`
	PublicKey  string                 `json:"publicKey"`
}

// RedeemClient implements a confirmation redemption client.
type RedeemClient struct {
	ClientFactory func(string, []byte) (*jsonclient.URLClient, error)
	ServerCA      []byte // The CA of the confirmation server, if any
}

// New returns a new confirmation redemption client.
func New(cacert []byte) *RedeemClient {
	rc := new(RedeemClient)
	rc.ClientFactory = DefaultClientFactory
	rc.ServerCA = cacert
	return rc
}

// CreateConfirmation posts a confirmation payload under the given ID and
// credential. The credential proves possession of an unblinded token
// without linking it to the wallet.
func (rc *RedeemClient) CreateConfirmation(confirmationID, credential, payload string) error {
	client, err := rc.ClientFactory(ServiceURL, rc.ServerCA)
	if err != nil {
		return err
	}
	status, _, err := client.Request(http.MethodPost,
		constants.ConfirmationPath+confirmationID+"/"+credential, nil, payload)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return ErrServer
	}
	return nil
}

// FetchPaymentToken gets the signed payment token for a previously created
// confirmation. ErrNotFound is returned while the token is not issued yet.
func (rc *RedeemClient) FetchPaymentToken(confirmationID string) (*PaymentToken, error) {
	client, err := rc.ClientFactory(ServiceURL, rc.ServerCA)
	if err != nil {
		return nil, err
	}
	status, responseBody, err := client.Request(http.MethodGet,
		constants.ConfirmationPath+confirmationID+"/paymentToken", nil, "")
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, ErrServer
	}
	data, err := jsonclient.ParseDict(responseBody)
	if err != nil {
		return nil, ErrParams
	}
	var pt PaymentToken
	pt.ID, _ = data["id"].(string)
	if pt.ID == "" {
		return nil, ErrParams
	}
	paymentToken, ok := data["paymentToken"].(map[string]interface{})
	if !ok {
		return nil, ErrParams
	}
	pt.PublicKey, ok = paymentToken["publicKey"].(string)
	if !ok {
		return nil, ErrParams
	}
	pt.BatchProof, ok = paymentToken["batchProof"].(string)
	if !ok {
		return nil, ErrParams
	}
	signedTokensValue, ok := paymentToken["signedTokens"].([]interface{})
	if !ok {
		return nil, ErrParams
	}
	for _, value := range signedTokensValue {
		signedToken, ok := value.(string)
		if !ok {
			return nil, ErrParams
		}
		pt.SignedTokens = append(pt.SignedTokens, signedToken)
	}
	return &pt, nil
}

// RedeemPaymentTokens redeems the given payment credentials against the
// wallet's payment ID.
func (rc *RedeemClient) RedeemPaymentTokens(
	wallet walletauth.WalletInfo,
	credentials []PaymentCredential,
) error {
	client, err := rc.ClientFactory(ServiceURL, rc.ServerCA)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(struct {
		PaymentID string `json:"paymentId"`
	}{PaymentID: wallet.PaymentID})
	if err != nil {
		return err
	}
	body, err := json.Marshal(struct {
		PaymentCredentials []PaymentCredential `json:"paymentCredentials"`
		Payload            string              `json:"payload"`
	}{PaymentCredentials: credentials, Payload: string(payload)})
	if err != nil {
		return err
	}
	status, _, err := client.Request(http.MethodPut,
		constants.PaymentPath+wallet.PaymentID, nil, string(body))
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return ErrServer
	}
	return nil
}
