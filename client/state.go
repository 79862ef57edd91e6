// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/mutecomm/confirmations/client/rewardsrpc"
	"github.com/mutecomm/confirmations/client/statestore"
	"github.com/mutecomm/confirmations/common/constants"
	"github.com/mutecomm/confirmations/common/issuers"
	"github.com/mutecomm/confirmations/common/jsonclient"
	"github.com/mutecomm/confirmations/common/tokenstore"
	"github.com/mutecomm/confirmations/log"
	"github.com/shopspring/decimal"
)

// ConfirmationType classifies the ad event a confirmation records.
type ConfirmationType string

// Confirmation types known to the confirmation server.
const (
	ConfirmationTypeViewed     ConfirmationType = "view"
	ConfirmationTypeClicked    ConfirmationType = "click"
	ConfirmationTypeDismissed  ConfirmationType = "dismiss"
	ConfirmationTypeLanded     ConfirmationType = "landed"
	ConfirmationTypeFlagged    ConfirmationType = "flag"
	ConfirmationTypeUpvoted    ConfirmationType = "upvote"
	ConfirmationTypeDownvoted  ConfirmationType = "downvote"
	ConfirmationTypeConversion ConfirmationType = "conversion"
)

// Confirmation is a record of one ad event, backed by a spent unblinded
// token. PaymentToken and BlindedPaymentToken hold the payment token
// pre-image pair generated for this confirmation; the signed payment token
// the server issues in exchange ends up in the payment token store.
type Confirmation struct {
	ID                  string
	CreativeInstanceID  string
	Type                ConfirmationType
	Token               tokenstore.UnblindedToken
	PaymentToken        string
	BlindedPaymentToken string
	Credential          string
	Timestamp           time.Time
	Created             bool
}

// TransactionInfo is one append-only ledger entry of the transaction
// history.
type TransactionInfo struct {
	Timestamp                time.Time
	EstimatedRedemptionValue float64
	Type                     ConfirmationType
}

// AdsRewards is the reconciled rewards balance fetched from the server.
type AdsRewards struct {
	GrantsBalance decimal.Decimal
	Payments      []rewardsrpc.Payment
}

// marshalState serializes the full state document. Every mutation of any
// sub-entity re-serializes the whole document.
func (c *Client) marshalState() (string, error) {
	issuerList := c.issuers.All()
	issuerDicts := make([]map[string]interface{}, 0, len(issuerList))
	for _, issuer := range issuerList {
		issuerDicts = append(issuerDicts, map[string]interface{}{
			"name":       issuer.Name,
			"public_key": issuer.PublicKey,
		})
	}

	confirmations := make([]map[string]interface{}, 0, len(c.failedConfirmations))
	for _, conf := range c.failedConfirmations {
		confirmations = append(confirmations, map[string]interface{}{
			"id":                   conf.ID,
			"creative_instance_id": conf.CreativeInstanceID,
			"type":                 string(conf.Type),
			"token_info": map[string]interface{}{
				"unblinded_token": conf.Token.Value,
				"public_key":      conf.Token.PublicKey,
			},
			"payment_token":         conf.PaymentToken,
			"blinded_payment_token": conf.BlindedPaymentToken,
			"credential":            conf.Credential,
			"timestamp_in_seconds":  strconv.FormatInt(conf.Timestamp.Unix(), 10),
			"created":               conf.Created,
		})
	}

	transactions := make([]map[string]interface{}, 0, len(c.transactions))
	for _, transaction := range c.transactions {
		transactions = append(transactions, map[string]interface{}{
			"timestamp_in_seconds":       strconv.FormatInt(transaction.Timestamp.Unix(), 10),
			"estimated_redemption_value": transaction.EstimatedRedemptionValue,
			"confirmation_type":          string(transaction.Type),
		})
	}

	payments := make([]map[string]interface{}, 0, len(c.adsRewards.Payments))
	for _, payment := range c.adsRewards.Payments {
		payments = append(payments, map[string]interface{}{
			"balance":           payment.Balance.String(),
			"month":             payment.Month,
			"transaction_count": strconv.FormatUint(payment.TransactionCount, 10),
		})
	}
	grantsBalance, _ := c.adsRewards.GrantsBalance.Float64()

	state := map[string]interface{}{
		"catalog_issuers": map[string]interface{}{
			"public_key": c.issuers.PublicKey(),
			"issuers":    issuerDicts,
		},
		"next_token_redemption_date_in_seconds": strconv.FormatInt(c.nextTokenRedemptionDate.Unix(), 10),
		"confirmations": map[string]interface{}{
			"failed_confirmations": confirmations,
		},
		"ads_rewards": map[string]interface{}{
			"grants_balance": grantsBalance,
			"payments":       payments,
		},
		"transaction_history": map[string]interface{}{
			"transactions": transactions,
		},
		"unblinded_tokens":         tokenDicts(c.adTokens.AllTokens()),
		"unblinded_payment_tokens": tokenDicts(c.paymentTokens.AllTokens()),
	}
	jsn, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return string(jsn), nil
}

func tokenDicts(tokens []tokenstore.UnblindedToken) []map[string]interface{} {
	dicts := make([]map[string]interface{}, 0, len(tokens))
	for _, token := range tokens {
		dicts = append(dicts, map[string]interface{}{
			"unblinded_token": token.Value,
			"public_key":      token.PublicKey,
		})
	}
	return dicts
}

// unmarshalState parses a state document. Sub-parsers tolerate missing or
// malformed fields individually so one bad field does not drop its
// siblings; the unblinded token lists are authoritative and simply empty
// when absent.
func (c *Client) unmarshalState(jsn string) error {
	data, err := jsonclient.ParseDict([]byte(jsn))
	if err != nil {
		return err
	}
	if !c.parseCatalogIssuers(data) {
		log.Warnf("client: state is missing catalog issuers")
	}
	if !c.parseNextTokenRedemptionDate(data) {
		log.Warnf("client: state is missing next token redemption date")
	}
	if !c.parseFailedConfirmations(data) {
		log.Warnf("client: state is missing failed confirmations")
	}
	if !c.parseAdsRewards(data) {
		log.Warnf("client: state is missing ads rewards")
	}
	if !c.parseTransactionHistory(data) {
		log.Warnf("client: state is missing transaction history")
	}
	c.adTokens.SetTokens(parseTokenList(data["unblinded_tokens"]))
	c.paymentTokens.SetTokens(parseTokenList(data["unblinded_payment_tokens"]))
	return nil
}

func (c *Client) parseCatalogIssuers(data map[string]interface{}) bool {
	catalogIssuers, ok := data["catalog_issuers"].(map[string]interface{})
	if !ok {
		return false
	}
	publicKey, ok := catalogIssuers["public_key"].(string)
	if !ok {
		return false
	}
	var list []issuers.Issuer
	entries, ok := catalogIssuers["issuers"].([]interface{})
	if !ok {
		return false
	}
	for _, entry := range entries {
		dict, ok := entry.(map[string]interface{})
		if !ok {
			return false
		}
		var issuer issuers.Issuer
		issuer.Name, ok = dict["name"].(string)
		if !ok {
			return false
		}
		issuer.PublicKey, ok = dict["public_key"].(string)
		if !ok {
			return false
		}
		list = append(list, issuer)
	}
	c.issuers = issuers.New(publicKey, list)
	return true
}

func (c *Client) parseNextTokenRedemptionDate(data map[string]interface{}) bool {
	value, ok := data["next_token_redemption_date_in_seconds"].(string)
	if !ok {
		return false
	}
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return false
	}
	c.nextTokenRedemptionDate = time.Unix(seconds, 0)
	return true
}

func (c *Client) parseFailedConfirmations(data map[string]interface{}) bool {
	confirmations, ok := data["confirmations"].(map[string]interface{})
	if !ok {
		return false
	}
	entries, ok := confirmations["failed_confirmations"].([]interface{})
	if !ok {
		return false
	}
	c.failedConfirmations = nil
	for _, entry := range entries {
		dict, ok := entry.(map[string]interface{})
		if !ok {
			return false
		}
		conf, ok := parseConfirmation(dict)
		if !ok {
			return false
		}
		c.failedConfirmations = append(c.failedConfirmations, conf)
	}
	return true
}

func parseConfirmation(dict map[string]interface{}) (Confirmation, bool) {
	var conf Confirmation
	var ok bool
	conf.ID, ok = dict["id"].(string)
	if !ok {
		return conf, false
	}
	conf.CreativeInstanceID, ok = dict["creative_instance_id"].(string)
	if !ok {
		return conf, false
	}
	confirmationType, ok := dict["type"].(string)
	if !ok {
		return conf, false
	}
	conf.Type = ConfirmationType(confirmationType)
	tokenInfo, ok := dict["token_info"].(map[string]interface{})
	if !ok {
		return conf, false
	}
	conf.Token.Value, ok = tokenInfo["unblinded_token"].(string)
	if !ok {
		return conf, false
	}
	conf.Token.PublicKey, _ = tokenInfo["public_key"].(string)
	conf.PaymentToken, ok = dict["payment_token"].(string)
	if !ok {
		return conf, false
	}
	conf.BlindedPaymentToken, ok = dict["blinded_payment_token"].(string)
	if !ok {
		return conf, false
	}
	conf.Credential, ok = dict["credential"].(string)
	if !ok {
		return conf, false
	}
	timestamp, ok := dict["timestamp_in_seconds"].(string)
	if !ok {
		return conf, false
	}
	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return conf, false
	}
	conf.Timestamp = time.Unix(seconds, 0)
	conf.Created, ok = dict["created"].(bool)
	if !ok {
		return conf, false
	}
	return conf, true
}

func (c *Client) parseAdsRewards(data map[string]interface{}) bool {
	adsRewards, ok := data["ads_rewards"].(map[string]interface{})
	if !ok {
		return false
	}
	grantsBalance, ok := adsRewards["grants_balance"].(float64)
	if !ok {
		return false
	}
	rewards := AdsRewards{GrantsBalance: decimal.NewFromFloat(grantsBalance)}
	entries, ok := adsRewards["payments"].([]interface{})
	if !ok {
		return false
	}
	for _, entry := range entries {
		dict, ok := entry.(map[string]interface{})
		if !ok {
			return false
		}
		var payment rewardsrpc.Payment
		balance, ok := dict["balance"].(string)
		if !ok {
			return false
		}
		var err error
		payment.Balance, err = decimal.NewFromString(balance)
		if err != nil {
			return false
		}
		payment.Month, ok = dict["month"].(string)
		if !ok {
			return false
		}
		transactionCount, ok := dict["transaction_count"].(string)
		if !ok {
			return false
		}
		payment.TransactionCount, err = strconv.ParseUint(transactionCount, 10, 64)
		if err != nil {
			return false
		}
		rewards.Payments = append(rewards.Payments, payment)
	}
	c.adsRewards = rewards
	return true
}

func (c *Client) parseTransactionHistory(data map[string]interface{}) bool {
	history, ok := data["transaction_history"].(map[string]interface{})
	if !ok {
		return false
	}
	entries, ok := history["transactions"].([]interface{})
	if !ok {
		return false
	}
	c.transactions = nil
	for _, entry := range entries {
		dict, ok := entry.(map[string]interface{})
		if !ok {
			return false
		}
		var transaction TransactionInfo
		timestamp, ok := dict["timestamp_in_seconds"].(string)
		if !ok {
			return false
		}
		seconds, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return false
		}
		transaction.Timestamp = time.Unix(seconds, 0)
		transaction.EstimatedRedemptionValue, ok = dict["estimated_redemption_value"].(float64)
		if !ok {
			return false
		}
		confirmationType, ok := dict["confirmation_type"].(string)
		if !ok {
			return false
		}
		transaction.Type = ConfirmationType(confirmationType)
		c.transactions = append(c.transactions, transaction)
	}
	return true
}

// parseTokenList accepts both the structured token entry shape and the
// legacy bare base64 string shape, whose issuer public key defaults to
// empty.
func parseTokenList(value interface{}) []tokenstore.UnblindedToken {
	entries, ok := value.([]interface{})
	if !ok {
		return nil
	}
	var tokens []tokenstore.UnblindedToken
	for _, entry := range entries {
		switch e := entry.(type) {
		case string:
			tokens = append(tokens, tokenstore.UnblindedToken{Value: e})
		case map[string]interface{}:
			var token tokenstore.UnblindedToken
			token.Value, ok = e["unblinded_token"].(string)
			if !ok {
				log.Warnf("client: skipping malformed unblinded token entry")
				continue
			}
			token.PublicKey, _ = e["public_key"].(string)
			tokens = append(tokens, token)
		default:
			log.Warnf("client: skipping malformed unblinded token entry")
		}
	}
	return tokens
}

// saveState serializes and persists the state document. Save failures are
// logged, not retried; the next mutation re-persists the merged state.
// Callers hold the client mutex.
func (c *Client) saveState() {
	if c.loading {
		return
	}
	jsn, err := c.marshalState()
	if err != nil {
		log.Errorf("client: failed to serialize state: %s", err)
		return
	}
	if err := c.store.Save(constants.StateKey, jsn); err != nil {
		log.Errorf("client: failed to save state: %s", err)
	}
}

// loadState loads the state document, installing the default state when no
// document exists yet. Callers hold the client mutex.
func (c *Client) loadState() error {
	jsn, err := c.store.Load(constants.StateKey)
	if err == statestore.ErrNotFound {
		c.nextTokenRedemptionDate = time.Now().Add(constants.PaymentTokenRedemptionInterval)
		c.saveState()
		return nil
	}
	if err != nil {
		c.LastError = err
		return ErrFatal
	}
	c.loading = true
	err = c.unmarshalState(jsn)
	c.loading = false
	if err != nil {
		c.LastError = err
		return ErrFatal
	}
	if c.nextTokenRedemptionDate.Unix() <= 0 {
		c.nextTokenRedemptionDate = time.Now().Add(constants.PaymentTokenRedemptionInterval)
	}
	c.saveState()
	return nil
}
