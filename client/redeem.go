// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mutecomm/confirmations/common/tokencrypto"
	"github.com/mutecomm/confirmations/common/tokenstore"
	"github.com/mutecomm/confirmations/log"
)

// AdInfo describes the ad an event fired for.
type AdInfo struct {
	CreativeInstanceID string
	CreativeSetID      string
	Category           string
	TargetURL          string
}

// ConfirmAd redeems an unblinded token for an ad event. The token is spent
// before anything goes on the wire; a failed submission never refunds it.
// ErrNoTokens is returned if the token store is empty, ad delivery has to
// tolerate the declined confirmation.
func (c *Client) ConfirmAd(ad AdInfo, confirmationType ConfirmationType) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.redeem(ad.CreativeInstanceID, confirmationType)
}

// ConfirmAction redeems an unblinded token for an ad action without a full
// AdInfo, such as flagging or voting.
func (c *Client) ConfirmAction(creativeInstanceID, creativeSetID string, confirmationType ConfirmationType) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.redeem(creativeInstanceID, confirmationType)
}

func (c *Client) redeem(creativeInstanceID string, confirmationType ConfirmationType) error {
	if !c.wallet.Valid() {
		return ErrInvalidWallet
	}
	conf, payload, err := c.createConfirmation(creativeInstanceID, confirmationType)
	if err != nil {
		return err
	}
	log.Infof("client: redeeming confirmation %s for %s", conf.ID,
		creativeInstanceID)
	if err := c.redeemConfirmation(conf, payload); err != nil {
		if conf.Created {
			// already queued by redeemConfirmation after the accepted
			// submission, only the retry timer has to run
			c.startQueueTimer()
		} else {
			c.appendToQueue(*conf)
		}
		c.bus.Publish(TopicRedeemFailed, *conf)
		return ErrRetry
	}
	return nil
}

// createConfirmation spends one unblinded token and builds a confirmation
// with a fresh payment token pre-image pair and a credential over the
// confirmation payload.
func (c *Client) createConfirmation(creativeInstanceID string, confirmationType ConfirmationType) (*Confirmation, string, error) {
	token, err := c.adTokens.RemoveFirst()
	if err != nil {
		c.LastError = err
		return nil, "", ErrNoTokens
	}
	paymentTokens, err := tokencrypto.GenerateTokens(1)
	if err != nil {
		c.LastError = err
		return nil, "", ErrFatal
	}
	blindedPaymentTokens, err := tokencrypto.BlindTokens(paymentTokens)
	if err != nil {
		c.LastError = err
		return nil, "", ErrFatal
	}
	conf := &Confirmation{
		ID:                  uuid.New().String(),
		CreativeInstanceID:  creativeInstanceID,
		Type:                confirmationType,
		Token:               *token,
		PaymentToken:        paymentTokens[0],
		BlindedPaymentToken: blindedPaymentTokens[0],
		Timestamp:           time.Now(),
	}
	payload, err := c.confirmationPayload(conf)
	if err != nil {
		c.LastError = err
		return nil, "", ErrFatal
	}
	credential, err := tokencrypto.DeriveCredential(token.Value, payload)
	if err != nil {
		c.LastError = err
		return nil, "", ErrFatal
	}
	blob, err := json.Marshal(struct {
		Payload   string `json:"payload"`
		Signature string `json:"signature"`
		T         string `json:"t"`
	}{Payload: payload, Signature: credential.Signature, T: credential.Preimage})
	if err != nil {
		c.LastError = err
		return nil, "", ErrFatal
	}
	conf.Credential = base64.StdEncoding.EncodeToString(blob)
	return conf, payload, nil
}

// confirmationPayload builds the JSON payload the credential signs and the
// server receives.
func (c *Client) confirmationPayload(conf *Confirmation) (string, error) {
	payload := map[string]interface{}{
		"creativeInstanceId":  conf.CreativeInstanceID,
		"payload":             map[string]interface{}{},
		"blindedPaymentToken": conf.BlindedPaymentToken,
		"type":                string(conf.Type),
	}
	if c.platform != "" {
		payload["platform"] = c.platform
	}
	if c.buildChannel != "" {
		payload["buildChannel"] = c.buildChannel
	}
	if countryCode, ok := c.disclosedCountryCode(); ok {
		payload["countryCode"] = countryCode
	}
	jsn, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(jsn), nil
}

// redeemConfirmation submits a confirmation and fetches the payment token
// issued for it. payload may be empty for a confirmation the server
// already accepted. A confirmation the caller did not queue is queued on
// submission failure by the caller; an accepted confirmation is queued
// here, before the payment token fetch.
func (c *Client) redeemConfirmation(conf *Confirmation, payload string) error {
	if !conf.Created {
		if err := c.redeemRPC.CreateConfirmation(conf.ID, conf.Credential, payload); err != nil {
			c.LastError = err
			return ErrRetry
		}
		conf.Created = true
		// The server accepted the confirmation. Persist it before the
		// payment token fetch so a restart in between resumes the
		// fetch instead of losing the spent token.
		c.failedConfirmations = append(c.failedConfirmations, *conf)
		c.saveState()
	}
	paymentToken, err := c.redeemRPC.FetchPaymentToken(conf.ID)
	if err != nil {
		c.LastError = err
		return ErrRetry
	}
	if paymentToken.ID != conf.ID {
		log.Errorf("client: payment token id %s does not match confirmation id %s",
			paymentToken.ID, conf.ID)
		c.LastError = ErrRetry
		return ErrRetry
	}
	if !c.issuers.IsValid(paymentToken.PublicKey) {
		log.Errorf("client: payment token public key %s is not a catalog issuer",
			paymentToken.PublicKey)
		c.LastError = ErrRetry
		return ErrRetry
	}
	unblindedTokens, err := tokencrypto.VerifyAndUnblind(
		[]string{conf.PaymentToken},
		[]string{conf.BlindedPaymentToken},
		paymentToken.SignedTokens,
		paymentToken.BatchProof,
		paymentToken.PublicKey)
	if err != nil {
		c.LastError = err
		return ErrRetry
	}
	if len(unblindedTokens) == 0 {
		log.Errorf("client: failed to verify and unblind payment token for confirmation %s", conf.ID)
		log.Errorf("  public key: %s", paymentToken.PublicKey)
		log.Errorf("  batch proof: %s", paymentToken.BatchProof)
		log.Errorf("  token: %s", conf.PaymentToken)
		log.Errorf("  blinded token: %s", conf.BlindedPaymentToken)
		for _, signedToken := range paymentToken.SignedTokens {
			log.Errorf("  signed token: %s", signedToken)
		}
		c.LastError = ErrRetry
		return ErrRetry
	}
	c.paymentTokens.AddTokens([]tokenstore.UnblindedToken{{
		Value:     unblindedTokens[0],
		PublicKey: paymentToken.PublicKey,
	}})
	c.appendTransaction(c.issuers.EstimatedRedemptionValue(paymentToken.PublicKey), conf.Type)
	if err := c.removeFromQueue(conf.ID); err != nil && err != ErrNotFound {
		log.Warnf("client: remove confirmation %s from queue: %s", conf.ID, err)
	}
	log.Infof("client: redeemed confirmation %s", conf.ID)
	c.bus.Publish(TopicRedeemSucceeded, *conf)
	return nil
}

// releaseChannel is the only build channel that discloses country codes.
const releaseChannel = "release"

// largeAnonymityCountryCodes are disclosed verbatim on the release
// channel: the user population in these countries is large enough that the
// country code does not narrow down identity.
var largeAnonymityCountryCodes = map[string]bool{
	"US": true, "CA": true, "GB": true, "DE": true, "FR": true,
	"AU": true, "NZ": true, "IE": true, "AR": true, "AT": true,
	"BR": true, "CH": true, "CL": true, "CO": true, "DK": true,
	"EC": true, "IL": true, "IN": true, "IT": true, "JP": true,
	"KR": true, "MX": true, "NL": true, "PE": true, "PH": true,
	"PL": true, "RO": true, "RU": true, "SE": true, "SG": true,
	"VE": true, "ZA": true,
}

// maskedCountryCodes are small populations reported as the masked
// placeholder instead.
var maskedCountryCodes = map[string]bool{
	"AS": true, "AI": true, "AQ": true, "AG": true, "BQ": true,
	"BV": true, "IO": true, "CX": true, "CC": true, "CK": true,
	"CW": true, "FK": true, "TF": true, "GF": true, "GI": true,
	"GS": true, "HM": true, "MS": true, "NU": true, "PN": true,
	"SH": true, "TK": true, "VA": true, "WF": true, "EH": true,
}

func (c *Client) disclosedCountryCode() (string, bool) {
	if c.buildChannel != releaseChannel || c.countryCode == "" {
		return "", false
	}
	if largeAnonymityCountryCodes[c.countryCode] {
		return c.countryCode, true
	}
	if maskedCountryCodes[c.countryCode] {
		return "??", true
	}
	return "", false
}
