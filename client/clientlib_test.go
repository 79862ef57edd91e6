// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agl/ed25519"
	cbr "github.com/brave-intl/challenge-bypass-ristretto-ffi"
	"github.com/go-chi/chi/v5"
	"github.com/mutecomm/confirmations/client/redeemrpc"
	"github.com/mutecomm/confirmations/client/rewardsrpc"
	"github.com/mutecomm/confirmations/client/statestore"
	"github.com/mutecomm/confirmations/client/statestore/memstore"
	"github.com/mutecomm/confirmations/client/tokenrpc"
	"github.com/mutecomm/confirmations/common/issuers"
	"github.com/mutecomm/confirmations/common/tokencrypto"
	"github.com/mutecomm/confirmations/common/tokenstore"
	"github.com/mutecomm/confirmations/common/walletauth"
	"github.com/stretchr/testify/require"
)

// testIssuer signs tokens server-side with the real ristretto primitives.
type testIssuer struct {
	key       *cbr.SigningKey
	publicKey string
}

func newTestIssuer(t *testing.T) *testIssuer {
	key, err := cbr.RandomSigningKey()
	require.NoError(t, err)
	publicKey, err := key.PublicKey().MarshalText()
	require.NoError(t, err)
	return &testIssuer{key: key, publicKey: string(publicKey)}
}

// sign signs base64 blinded tokens and returns the base64 signed tokens
// plus the batch DLEQ proof.
func (ti *testIssuer) sign(t *testing.T, blindedTokensEnc []string) ([]string, string) {
	var blindedTokens []*cbr.BlindedToken
	for _, enc := range blindedTokensEnc {
		blindedToken := new(cbr.BlindedToken)
		require.NoError(t, blindedToken.UnmarshalText([]byte(enc)))
		blindedTokens = append(blindedTokens, blindedToken)
	}
	var signedTokens []*cbr.SignedToken
	var signedTokensEnc []string
	for _, blindedToken := range blindedTokens {
		signedToken, err := ti.key.Sign(blindedToken)
		require.NoError(t, err)
		signedTokens = append(signedTokens, signedToken)
		enc, err := signedToken.MarshalText()
		require.NoError(t, err)
		signedTokensEnc = append(signedTokensEnc, string(enc))
	}
	proof, err := cbr.NewBatchDLEQProof(blindedTokens, signedTokens, ti.key)
	require.NoError(t, err)
	proofEnc, err := proof.MarshalText()
	require.NoError(t, err)
	return signedTokensEnc, string(proofEnc)
}

// unblindedTokens creates n valid unblinded tokens under the issuer.
func (ti *testIssuer) unblindedTokens(t *testing.T, n int) []tokenstore.UnblindedToken {
	preimages, err := tokencrypto.GenerateTokens(n)
	require.NoError(t, err)
	blindedTokens, err := tokencrypto.BlindTokens(preimages)
	require.NoError(t, err)
	signedTokens, proof := ti.sign(t, blindedTokens)
	unblinded, err := tokencrypto.VerifyAndUnblind(preimages, blindedTokens,
		signedTokens, proof, ti.publicKey)
	require.NoError(t, err)
	require.Len(t, unblinded, n)
	tokens := make([]tokenstore.UnblindedToken, 0, n)
	for _, value := range unblinded {
		tokens = append(tokens, tokenstore.UnblindedToken{
			Value:     value,
			PublicKey: ti.publicKey,
		})
	}
	return tokens
}

// testServer simulates the confirmation server.
type testServer struct {
	t      *testing.T
	issuer *testIssuer
	srv    *httptest.Server

	walletPublicKey string // hex, for signature verification

	tokenRequests  int
	blindedTokens  []string
	nonce          string
	badProof       bool
	rejectCreate   bool
	rejectFetch    bool
	confirmations  map[string]string // confirmation id -> blinded payment token
	paymentRedeems int
}

func newTestServer(t *testing.T, issuer *testIssuer, walletPublicKey string) *testServer {
	ts := &testServer{
		t:               t,
		issuer:          issuer,
		walletPublicKey: walletPublicKey,
		confirmations:   make(map[string]string),
	}
	r := chi.NewRouter()
	r.Post("/v1/confirmation/token/{paymentID}", ts.handleRequestTokens)
	r.Get("/v1/confirmation/token/{paymentID}", ts.handleFetchTokens)
	r.Put("/v1/confirmation/payment/{paymentID}", ts.handleRedeemPayment)
	r.Get("/v1/confirmation/payment/{paymentID}", ts.handleGetPayments)
	// the credential is standard base64 and may contain slashes
	r.Post("/v1/confirmation/{confirmationID}/*", ts.handleCreateConfirmation)
	r.Get("/v1/confirmation/{confirmationID}/paymentToken", ts.handleFetchPaymentToken)
	r.Get("/v1/promotions/ads/grants/summary", ts.handleGrantsSummary)
	ts.srv = httptest.NewServer(r)
	return ts
}

func (ts *testServer) handleRequestTokens(w http.ResponseWriter, r *http.Request) {
	body, _ := ioutil.ReadAll(r.Body)
	if !walletauth.Verify(ts.walletPublicKey, string(body), r.Header.Get("signature")) {
		ts.t.Error("request signed tokens: bad signature header")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var request struct {
		BlindedTokens []string `json:"blindedTokens"`
	}
	require.NoError(ts.t, json.Unmarshal(body, &request))
	ts.tokenRequests++
	ts.blindedTokens = request.BlindedTokens
	ts.nonce = "2f0e2891-e757-4dc1-b5e5-9469c9ca2867"
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"nonce": ts.nonce})
}

func (ts *testServer) handleFetchTokens(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("nonce") != ts.nonce {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	signedTokens, proof := ts.issuer.sign(ts.t, ts.blindedTokens)
	if ts.badProof {
		// proof over the reversed batch does not verify
		reversed := make([]string, len(ts.blindedTokens))
		for i, enc := range ts.blindedTokens {
			reversed[len(reversed)-1-i] = enc
		}
		_, proof = ts.issuer.sign(ts.t, reversed)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"publicKey":    ts.issuer.publicKey,
		"batchProof":   proof,
		"signedTokens": signedTokens,
	})
}

func (ts *testServer) handleCreateConfirmation(w http.ResponseWriter, r *http.Request) {
	if ts.rejectCreate {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	id := chi.URLParam(r, "confirmationID")
	credentialEnc := chi.URLParam(r, "*")
	blob, err := base64.StdEncoding.DecodeString(credentialEnc)
	require.NoError(ts.t, err)
	var credential struct {
		Payload   string `json:"payload"`
		Signature string `json:"signature"`
		T         string `json:"t"`
	}
	require.NoError(ts.t, json.Unmarshal(blob, &credential))
	body, _ := ioutil.ReadAll(r.Body)
	require.Equal(ts.t, credential.Payload, string(body))
	var payload struct {
		BlindedPaymentToken string `json:"blindedPaymentToken"`
		CreativeInstanceID  string `json:"creativeInstanceId"`
		Type                string `json:"type"`
	}
	require.NoError(ts.t, json.Unmarshal([]byte(credential.Payload), &payload))
	require.NotEmpty(ts.t, payload.BlindedPaymentToken)
	ts.confirmations[id] = payload.BlindedPaymentToken
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (ts *testServer) handleFetchPaymentToken(w http.ResponseWriter, r *http.Request) {
	if ts.rejectFetch {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	id := chi.URLParam(r, "confirmationID")
	blindedPaymentToken, ok := ts.confirmations[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	signedTokens, proof := ts.issuer.sign(ts.t, []string{blindedPaymentToken})
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id": id,
		"paymentToken": map[string]interface{}{
			"publicKey":    ts.issuer.publicKey,
			"batchProof":   proof,
			"signedTokens": signedTokens,
		},
	})
}

func (ts *testServer) handleRedeemPayment(w http.ResponseWriter, r *http.Request) {
	body, _ := ioutil.ReadAll(r.Body)
	var request struct {
		PaymentCredentials []struct {
			Credential struct {
				Signature string `json:"signature"`
				T         string `json:"t"`
			} `json:"credential"`
			PublicKey string `json:"publicKey"`
		} `json:"paymentCredentials"`
		Payload string `json:"payload"`
	}
	require.NoError(ts.t, json.Unmarshal(body, &request))
	require.NotEmpty(ts.t, request.PaymentCredentials)
	for _, credential := range request.PaymentCredentials {
		require.NotEmpty(ts.t, credential.Credential.Signature)
		require.NotEmpty(ts.t, credential.Credential.T)
		require.Equal(ts.t, ts.issuer.publicKey, credential.PublicKey)
	}
	var payload struct {
		PaymentID string `json:"paymentId"`
	}
	require.NoError(ts.t, json.Unmarshal([]byte(request.Payload), &payload))
	require.Equal(ts.t, chi.URLParam(r, "paymentID"), payload.PaymentID)
	ts.paymentRedeems++
	w.Write([]byte(`{}`))
}

func (ts *testServer) handleGetPayments(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(`[{"balance":"0.15","month":"2020-06","transactionCount":"3"}]`))
}

func (ts *testServer) handleGrantsSummary(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(`{"type":"ads","amount":"1.25","lastClaim":""}`))
}

// recordingStore captures every persisted state snapshot.
type recordingStore struct {
	memstore.MemStore
	snapshots []string
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemStore: *memstore.New()}
}

func (rs *recordingStore) Save(key, state string) error {
	rs.snapshots = append(rs.snapshots, state)
	return rs.MemStore.Save(key, state)
}

// newTestClient builds a client wired against the test server, with the
// wallet set and the issuer registered as the catalog issuer.
func newTestClient(t *testing.T, ts *testServer, wallet walletauth.WalletInfo) *Client {
	return newTestClientStore(t, ts, wallet, memstore.New())
}

func newTestClientStore(t *testing.T, ts *testServer, wallet walletauth.WalletInfo, store statestore.Store) *Client {
	oldTokenURL := tokenrpc.ServiceURL
	oldRedeemURL := redeemrpc.ServiceURL
	oldRewardsURL := rewardsrpc.ServiceURL
	tokenrpc.ServiceURL = ts.srv.URL
	redeemrpc.ServiceURL = ts.srv.URL
	rewardsrpc.ServiceURL = ts.srv.URL
	t.Cleanup(func() {
		tokenrpc.ServiceURL = oldTokenURL
		redeemrpc.ServiceURL = oldRedeemURL
		rewardsrpc.ServiceURL = oldRewardsURL
		ts.srv.Close()
	})
	c := New(store, nil)
	t.Cleanup(func() {
		c.refillTimer.Stop()
		c.queueTimer.Stop()
		c.paymentTimer.Stop()
		c.rewardsTimer.Stop()
	})
	c.SetBuildInfo("desktop", "release", "US")
	c.SetCatalogIssuers(ts.issuer.publicKey, []issuers.Issuer{
		{Name: "0.05BAT", PublicKey: ts.issuer.publicKey},
	})
	require.NoError(t, c.Initialize())
	require.NoError(t, c.SetWalletInfo(wallet))
	return c
}

func testWallet(t *testing.T) (walletauth.WalletInfo, string) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	wallet := walletauth.WalletInfo{
		PaymentID:  "d68f04e9-cd51-4c7b-8a01-9a8d1b93d832",
		PrivateKey: hex.EncodeToString(privKey[:]),
	}
	return wallet, hex.EncodeToString(pubKey[:])
}

func TestRefillThreshold(t *testing.T) {
	wallet, walletPublicKey := testWallet(t)
	issuer := newTestIssuer(t)
	ts := newTestServer(t, issuer, walletPublicKey)
	c := newTestClient(t, ts, wallet)

	// empty store refills up to the maximum
	require.NoError(t, c.RefillIfNecessary())
	require.Equal(t, 1, ts.tokenRequests)
	require.Len(t, ts.blindedTokens, 50)
	require.Equal(t, 50, c.UnblindedTokenCount())

	// at or above the minimum no request is made
	require.NoError(t, c.RefillIfNecessary())
	require.Equal(t, 1, ts.tokenRequests)

	// below the minimum the refill tops up the difference
	c.mutex.Lock()
	c.adTokens.SetTokens(issuer.unblindedTokens(t, 5))
	c.mutex.Unlock()
	require.NoError(t, c.RefillIfNecessary())
	require.Equal(t, 2, ts.tokenRequests)
	require.Len(t, ts.blindedTokens, 45)
	require.Equal(t, 50, c.UnblindedTokenCount())
}

func TestRefillVerificationFailure(t *testing.T) {
	wallet, walletPublicKey := testWallet(t)
	issuer := newTestIssuer(t)
	ts := newTestServer(t, issuer, walletPublicKey)
	ts.badProof = true
	c := newTestClient(t, ts, wallet)

	// a proof that does not verify is a retryable failure, not a silent
	// success with zero tokens
	require.Equal(t, ErrRetry, c.RefillIfNecessary())
	require.Equal(t, 0, c.UnblindedTokenCount())
	require.Equal(t, 1, ts.tokenRequests)

	// the pending retry suppresses new refill cycles
	require.NoError(t, c.RefillIfNecessary())
	require.Equal(t, 1, ts.tokenRequests)
}

func TestRedeemScenario(t *testing.T) {
	wallet, walletPublicKey := testWallet(t)
	issuer := newTestIssuer(t)
	ts := newTestServer(t, issuer, walletPublicKey)
	c := newTestClient(t, ts, wallet)
	c.mutex.Lock()
	c.adTokens.SetTokens(issuer.unblindedTokens(t, 2))
	c.mutex.Unlock()

	ad := AdInfo{
		CreativeInstanceID: "546fe7b0-5047-4f28-a11c-81f14edcf0f6",
		CreativeSetID:      "c2ba3e7d-f688-4bc4-851efc7f59aa",
	}
	require.NoError(t, c.ConfirmAd(ad, ConfirmationTypeViewed))
	require.Equal(t, 1, c.UnblindedTokenCount())
	require.Equal(t, 1, c.UnblindedPaymentTokenCount())
	require.Equal(t, 0, c.FailedConfirmationCount())
	require.Len(t, ts.confirmations, 1)

	history := c.GetTransactionHistory(time.Unix(0, 0), time.Now().Add(time.Second))
	require.Len(t, history, 1)
	require.Equal(t, 0.05, history[0].EstimatedRedemptionValue)
	require.Equal(t, ConfirmationTypeViewed, history[0].Type)
}

func TestRedeemNoTokens(t *testing.T) {
	wallet, walletPublicKey := testWallet(t)
	issuer := newTestIssuer(t)
	ts := newTestServer(t, issuer, walletPublicKey)
	c := newTestClient(t, ts, wallet)

	err := c.ConfirmAd(AdInfo{CreativeInstanceID: "id"}, ConfirmationTypeViewed)
	require.Equal(t, ErrNoTokens, err)
	require.Equal(t, 0, c.FailedConfirmationCount())
}

func TestRedeemServerFailure(t *testing.T) {
	wallet, walletPublicKey := testWallet(t)
	issuer := newTestIssuer(t)
	ts := newTestServer(t, issuer, walletPublicKey)
	ts.rejectCreate = true
	c := newTestClient(t, ts, wallet)
	c.mutex.Lock()
	c.adTokens.SetTokens(issuer.unblindedTokens(t, 2))
	c.mutex.Unlock()

	err := c.ConfirmAd(AdInfo{CreativeInstanceID: "id"}, ConfirmationTypeViewed)
	require.Equal(t, ErrRetry, err)
	// the spent token is not refunded, the confirmation is queued
	require.Equal(t, 1, c.UnblindedTokenCount())
	require.Equal(t, 1, c.FailedConfirmationCount())
	require.Equal(t, 0, c.UnblindedPaymentTokenCount())
}

func TestRedeemFetchFailure(t *testing.T) {
	wallet, walletPublicKey := testWallet(t)
	issuer := newTestIssuer(t)
	ts := newTestServer(t, issuer, walletPublicKey)
	ts.rejectFetch = true
	c := newTestClient(t, ts, wallet)
	c.mutex.Lock()
	c.adTokens.SetTokens(issuer.unblindedTokens(t, 2))
	c.mutex.Unlock()

	// the submission is accepted but the payment token fetch fails: the
	// confirmation stays queued with its original id and credential
	err := c.ConfirmAd(AdInfo{CreativeInstanceID: "id"}, ConfirmationTypeViewed)
	require.Equal(t, ErrRetry, err)
	require.Equal(t, 1, c.UnblindedTokenCount())
	require.Equal(t, 1, c.FailedConfirmationCount())
	c.mutex.Lock()
	conf := c.failedConfirmations[0]
	c.mutex.Unlock()
	require.True(t, conf.Created)

	// the retry only repeats the fetch, no second token is spent
	ts.rejectFetch = false
	c.processQueue()
	require.Equal(t, 0, c.FailedConfirmationCount())
	require.Equal(t, 1, c.UnblindedTokenCount())
	require.Equal(t, 1, c.UnblindedPaymentTokenCount())
}

func TestRedeemPersistsAcceptedConfirmation(t *testing.T) {
	wallet, walletPublicKey := testWallet(t)
	issuer := newTestIssuer(t)
	ts := newTestServer(t, issuer, walletPublicKey)
	store := newRecordingStore()
	c := newTestClientStore(t, ts, wallet, store)
	c.mutex.Lock()
	c.adTokens.SetTokens(issuer.unblindedTokens(t, 1))
	c.mutex.Unlock()

	require.NoError(t, c.ConfirmAd(AdInfo{CreativeInstanceID: "id"},
		ConfirmationTypeViewed))
	require.Equal(t, 0, c.FailedConfirmationCount())

	// between the accepted submission and the payment token fetch the
	// confirmation is on disk, a restart there resumes the fetch
	queued := 0
	for _, snapshot := range store.snapshots {
		var state struct {
			Confirmations struct {
				FailedConfirmations []json.RawMessage `json:"failed_confirmations"`
			} `json:"confirmations"`
		}
		require.NoError(t, json.Unmarshal([]byte(snapshot), &state))
		if len(state.Confirmations.FailedConfirmations) > 0 {
			queued++
		}
	}
	require.NotZero(t, queued)
}

func TestQueueRetryAfterRefill(t *testing.T) {
	wallet, walletPublicKey := testWallet(t)
	issuer := newTestIssuer(t)
	ts := newTestServer(t, issuer, walletPublicKey)
	c := newTestClient(t, ts, wallet)
	c.mutex.Lock()
	c.appendToQueue(Confirmation{
		ID:                 "9fd71500-4e61-4c85-9e78-1bf0e82ea8a9",
		CreativeInstanceID: "546fe7b0-5047-4f28-a11c-81f14edcf0f6",
		Type:               ConfirmationTypeViewed,
		Timestamp:          time.Now(),
	})
	c.mutex.Unlock()

	// no tokens to rebuild with: the confirmation stays queued and a
	// refill is triggered instead of dropping it
	c.processQueue()
	require.Equal(t, 1, c.FailedConfirmationCount())
	require.Equal(t, 1, ts.tokenRequests)
	require.Equal(t, 50, c.UnblindedTokenCount())

	// with tokens available the next cycle redeems it
	c.processQueue()
	require.Equal(t, 0, c.FailedConfirmationCount())
	require.Equal(t, 1, c.UnblindedPaymentTokenCount())
}

func TestConfirmationCredentialEncoding(t *testing.T) {
	wallet, walletPublicKey := testWallet(t)
	issuer := newTestIssuer(t)
	ts := newTestServer(t, issuer, walletPublicKey)
	c := newTestClient(t, ts, wallet)
	c.mutex.Lock()
	c.adTokens.SetTokens(issuer.unblindedTokens(t, 1))
	conf, payload, err := c.createConfirmation("instance", ConfirmationTypeViewed)
	c.mutex.Unlock()
	require.NoError(t, err)

	// the credential blob is standard base64 over {payload, signature, t}
	blob, err := base64.StdEncoding.DecodeString(conf.Credential)
	require.NoError(t, err)
	var credential struct {
		Payload   string `json:"payload"`
		Signature string `json:"signature"`
		T         string `json:"t"`
	}
	require.NoError(t, json.Unmarshal(blob, &credential))
	require.Equal(t, payload, credential.Payload)
	require.NotEmpty(t, credential.Signature)
	require.NotEmpty(t, credential.T)
}

func TestIssuerRotation(t *testing.T) {
	wallet, walletPublicKey := testWallet(t)
	issuer := newTestIssuer(t)
	ts := newTestServer(t, issuer, walletPublicKey)
	c := newTestClient(t, ts, wallet)
	c.mutex.Lock()
	c.adTokens.SetTokens(issuer.unblindedTokens(t, 30))
	c.mutex.Unlock()

	// rotating the catalog key discards all held tokens and refills
	// under the new key
	rotated := newTestIssuer(t)
	ts.issuer = rotated
	c.SetCatalogIssuers(rotated.publicKey, []issuers.Issuer{
		{Name: "0.05BAT", PublicKey: rotated.publicKey},
	})
	require.Equal(t, 1, ts.tokenRequests)
	require.Equal(t, 50, c.UnblindedTokenCount())
	for _, token := range c.adTokens.AllTokens() {
		require.Equal(t, rotated.publicKey, token.PublicKey)
	}
}

func TestRedeemPaymentTokens(t *testing.T) {
	wallet, walletPublicKey := testWallet(t)
	issuer := newTestIssuer(t)
	ts := newTestServer(t, issuer, walletPublicKey)
	c := newTestClient(t, ts, wallet)
	c.mutex.Lock()
	c.paymentTokens.SetTokens(issuer.unblindedTokens(t, 3))
	c.mutex.Unlock()

	before := time.Now()
	require.NoError(t, c.RedeemPaymentTokens())
	require.Equal(t, 1, ts.paymentRedeems)
	require.Equal(t, 0, c.UnblindedPaymentTokenCount())
	require.True(t, c.NextTokenRedemptionDate().After(before))
}
