// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"github.com/mutecomm/confirmations/common/constants"
	"github.com/mutecomm/confirmations/common/tokencrypto"
	"github.com/mutecomm/confirmations/common/tokenstore"
	"github.com/mutecomm/confirmations/log"
)

// RefillIfNecessary tops the unblinded token store up to the maximum if it
// dropped below the minimum threshold. A refill cycle with a pending retry
// suppresses new refills until it completes.
func (c *Client) RefillIfNecessary() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.refill()
}

func (c *Client) refill() error {
	if !c.wallet.Valid() {
		return ErrInvalidWallet
	}
	if c.refillTimer.Running() {
		log.Debugf("client: refill in progress, not refilling")
		return nil
	}
	if c.adTokens.Count() >= constants.MinimumUnblindedTokens {
		return nil
	}
	return c.refillStep()
}

// refillStep runs the two-phase refill exchange from wherever the held
// state allows. Once a nonce exists the blinded tokens are committed
// against the server and must never be re-requested.
func (c *Client) refillStep() error {
	if c.refillNonce == "" {
		count := constants.MaximumUnblindedTokens - c.adTokens.Count()
		log.Infof("client: requesting %d signed tokens", count)
		tokens, err := tokencrypto.GenerateTokens(count)
		if err != nil {
			c.LastError = err
			return ErrFatal
		}
		blindedTokens, err := tokencrypto.BlindTokens(tokens)
		if err != nil {
			c.LastError = err
			return ErrFatal
		}
		nonce, err := c.tokenRPC.RequestSignedTokens(blindedTokens)
		if err != nil {
			c.LastError = err
			return c.scheduleRefillRetry()
		}
		c.refillTokens = tokens
		c.refillBlindedTokens = blindedTokens
		c.refillNonce = nonce
	}
	publicKey, batchProof, signedTokens, err := c.tokenRPC.FetchSignedTokens(c.refillNonce)
	if err != nil {
		c.LastError = err
		return c.scheduleRefillRetry()
	}
	if publicKey != c.issuers.PublicKey() {
		log.Errorf("client: signed tokens public key %s does not match catalog issuers public key %s",
			publicKey, c.issuers.PublicKey())
		c.LastError = ErrRetry
		return c.scheduleRefillRetry()
	}
	unblindedTokens, err := tokencrypto.VerifyAndUnblind(c.refillTokens,
		c.refillBlindedTokens, signedTokens, batchProof, publicKey)
	if err != nil {
		c.LastError = err
		return c.scheduleRefillRetry()
	}
	if len(unblindedTokens) == 0 {
		c.dumpRefillDiagnostics(publicKey, batchProof, signedTokens)
		c.LastError = ErrRetry
		return c.scheduleRefillRetry()
	}
	tokens := make([]tokenstore.UnblindedToken, 0, len(unblindedTokens))
	for _, unblindedToken := range unblindedTokens {
		tokens = append(tokens, tokenstore.UnblindedToken{
			Value:     unblindedToken,
			PublicKey: publicKey,
		})
	}
	added := c.adTokens.AddTokens(tokens)
	log.Infof("client: added %d unblinded tokens, store has %d", added,
		c.adTokens.Count())
	c.refillTokens = nil
	c.refillBlindedTokens = nil
	c.refillNonce = ""
	c.refillTimer.Reset()
	c.bus.Publish(TopicRefillSucceeded, added)
	return nil
}

func (c *Client) scheduleRefillRetry() error {
	c.bus.Publish(TopicRefillFailed)
	c.refillTimer.Start(func() {
		c.bus.Publish(TopicRefillRetrying)
		c.mutex.Lock()
		defer c.mutex.Unlock()
		if err := c.refillStep(); err != nil && err != ErrRetry {
			log.Errorf("client: refill retry: %s", err)
		}
	})
	return ErrRetry
}

// dumpRefillDiagnostics logs the full refill exchange for forensic replay
// after a batch proof verification failure. Token material only, never the
// confirmation payloads.
func (c *Client) dumpRefillDiagnostics(publicKey, batchProof string, signedTokens []string) {
	log.Errorf("client: failed to verify and unblind signed tokens")
	log.Errorf("  public key: %s", publicKey)
	log.Errorf("  batch proof: %s", batchProof)
	for _, token := range c.refillTokens {
		log.Errorf("  token: %s", token)
	}
	for _, blindedToken := range c.refillBlindedTokens {
		log.Errorf("  blinded token: %s", blindedToken)
	}
	for _, signedToken := range signedTokens {
		log.Errorf("  signed token: %s", signedToken)
	}
}
