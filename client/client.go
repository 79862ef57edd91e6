// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package client implements an ad confirmations client with durable local
// state. It obtains blind-signed single-use tokens from the confirmation
// server, spends one per ad event to create an unlinkable confirmation,
// and periodically redeems the payment tokens earned in exchange.
// Methods return ErrRetry if the error is recoverable and the owning engine
// scheduled a retry, ErrFatal if an internal (client-side) error exists such
// as unavailable processing or storage, ErrNoTokens if the token store is
// exhausted and ErrInvalidWallet if no valid wallet has been set. Details on
// what exactly caused an error is available in client.LastError.
package client

import (
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/mutecomm/confirmations/client/redeemrpc"
	"github.com/mutecomm/confirmations/client/rewardsrpc"
	"github.com/mutecomm/confirmations/client/statestore"
	"github.com/mutecomm/confirmations/client/tokenrpc"
	"github.com/mutecomm/confirmations/common/constants"
	"github.com/mutecomm/confirmations/common/issuers"
	"github.com/mutecomm/confirmations/common/tokenstore"
	"github.com/mutecomm/confirmations/common/walletauth"
	"github.com/mutecomm/confirmations/log"
)

// Client encapsulates the confirmations client API. All exported methods
// serialize state access through a single mutex; network round-trips run
// under it as well, one logical actor per wallet.
type Client struct {
	mutex sync.Mutex

	store  statestore.Store
	bus    EventBus.Bus
	cacert []byte

	wallet       walletauth.WalletInfo
	platform     string
	buildChannel string
	countryCode  string

	adTokens      *tokenstore.Store
	paymentTokens *tokenstore.Store
	issuers       *issuers.Issuers

	failedConfirmations     []Confirmation
	transactions            []TransactionInfo
	adsRewards              AdsRewards
	nextTokenRedemptionDate time.Time

	tokenRPC   *tokenrpc.TokenClient
	redeemRPC  *redeemrpc.RedeemClient
	rewardsRPC *rewardsrpc.RewardsClient

	refillTimer         *retryTimer
	refillTokens        []string
	refillBlindedTokens []string
	refillNonce         string

	queueTimer      *retryTimer
	paymentTimer    *retryTimer
	paymentRetrying bool
	rewardsTimer    *retryTimer

	loading     bool
	initialized bool

	// LastError records the cause of the last sentinel error returned.
	LastError error
}

// New returns a new confirmations client persisting its state in store.
// cacert is the CA certificate of the confirmation server, it may be nil.
func New(store statestore.Store, cacert []byte) *Client {
	c := new(Client)
	c.store = store
	c.cacert = cacert
	c.bus = EventBus.New()
	c.adTokens = tokenstore.New(c.saveState)
	c.paymentTokens = tokenstore.New(c.saveState)
	c.issuers = issuers.New("", nil)
	c.redeemRPC = redeemrpc.New(cacert)
	c.refillTimer = newRetryTimer(constants.RefillRetryAfter)
	c.queueTimer = newRetryTimer(constants.FailedConfirmationsRetryAfter)
	c.paymentTimer = newRetryTimer(constants.PaymentTokenRedemptionRetryAfter)
	c.rewardsTimer = newRetryTimer(constants.AdRewardsRetryAfter)
	return c
}

// Bus returns the event bus engine outcomes are published on.
func (c *Client) Bus() EventBus.Bus {
	return c.bus
}

// SetBuildInfo sets the platform, build channel and country code included
// in confirmation payloads. The country code is only disclosed on the
// release channel, and only for country codes with a large anonymity set.
func (c *Client) SetBuildInfo(platform, buildChannel, countryCode string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.platform = platform
	c.buildChannel = buildChannel
	c.countryCode = countryCode
}

// SetWalletInfo sets the wallet used to authenticate against the
// confirmation server and triggers an ad rewards reconciliation. The
// wallet is immutable for the session, setting the same wallet again is a
// no-op.
func (c *Client) SetWalletInfo(wallet walletauth.WalletInfo) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !wallet.Valid() {
		return ErrInvalidWallet
	}
	if c.wallet.Equal(wallet) {
		return nil
	}
	c.wallet = wallet
	c.tokenRPC = tokenrpc.New(wallet, c.cacert)
	c.rewardsRPC = rewardsrpc.New(wallet, c.cacert)
	log.Infof("client: wallet set, paymentId=%s", wallet.PaymentID)
	c.reconcileAdsRewards()
	return nil
}

// SetCatalogIssuers replaces the catalog issuer registry wholesale. If the
// signing key rotated, all held unblinded ad tokens become worthless and
// are discarded, and a refill is triggered on an initialized client.
// Outstanding confirmations already submitted stay valid.
func (c *Client) SetCatalogIssuers(publicKey string, issuerList []issuers.Issuer) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	rotated := c.issuers.Set(publicKey, issuerList)
	if rotated {
		log.Infof("client: catalog issuers rotated, discarding unblinded tokens")
		c.adTokens.RemoveAllTokens()
	}
	c.saveState()
	if rotated && c.initialized {
		if err := c.refill(); err != nil && err != ErrRetry {
			log.Warnf("client: refill after issuer rotation: %s", err)
		}
	}
}

// Initialize loads the state document and starts the confirmation queue,
// the payment token redemption schedule and, if necessary, a token refill.
// It must be called exactly once, before any confirmation is redeemed.
func (c *Client) Initialize() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.initialized {
		return nil
	}
	if err := c.loadState(); err != nil {
		return err
	}
	c.initialized = true
	if len(c.failedConfirmations) > 0 {
		c.startQueueTimer()
	}
	c.schedulePaymentTokenRedemption()
	if c.wallet.Valid() {
		if err := c.refill(); err != nil && err != ErrRetry {
			return err
		}
	}
	return nil
}

// WalletInfo returns the wallet the client authenticates with.
func (c *Client) WalletInfo() walletauth.WalletInfo {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.wallet
}

// UnblindedTokenCount returns the number of unblinded ad tokens held.
func (c *Client) UnblindedTokenCount() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.adTokens.Count()
}

// UnblindedPaymentTokenCount returns the number of unblinded payment
// tokens awaiting redemption.
func (c *Client) UnblindedPaymentTokenCount() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.paymentTokens.Count()
}

// NextTokenRedemptionDate returns the time of the next payment token
// redemption cycle.
func (c *Client) NextTokenRedemptionDate() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.nextTokenRedemptionDate
}
