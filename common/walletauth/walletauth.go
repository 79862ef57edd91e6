// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package walletauth implements the wallet authentication scheme for
// confirmation server requests.
package walletauth

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/agl/ed25519"
)

var (
	// ErrBadPrivateKey signals that the wallet private key cannot be decoded.
	ErrBadPrivateKey = errors.New("walletauth: bad private key")
	// ErrInvalidWallet signals that the wallet is missing its payment id or key.
	ErrInvalidWallet = errors.New("walletauth: invalid wallet")
)

// KeyID identifies the wallet signing key in signature headers.
const KeyID = "primary"

// WalletInfo is the immutable wallet identity used to authenticate requests.
type WalletInfo struct {
	PaymentID  string // Server-issued payment id
	PrivateKey string // Hex-encoded ed25519 private key
}

// Valid returns true if the wallet has both a payment id and a private key.
func (w WalletInfo) Valid() bool {
	return w.PaymentID != "" && w.PrivateKey != ""
}

// Equal returns true if two wallets carry the same identity.
func (w WalletInfo) Equal(o WalletInfo) bool {
	return w.PaymentID == o.PaymentID && w.PrivateKey == o.PrivateKey
}

// DigestHeader returns the digest header value for a request body.
// It is empty for an empty body.
func DigestHeader(body string) string {
	if body == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(body))
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

// SignatureHeader returns the signature header value authenticating the
// digest of body with the wallet private key.
func (w WalletInfo) SignatureHeader(body string) (string, error) {
	if !w.Valid() {
		return "", ErrInvalidWallet
	}
	keyBytes, err := hex.DecodeString(w.PrivateKey)
	if err != nil || len(keyBytes) != ed25519.PrivateKeySize {
		return "", ErrBadPrivateKey
	}
	var privkey [ed25519.PrivateKeySize]byte
	copy(privkey[:], keyBytes)
	signingString := "digest: " + DigestHeader(body)
	sig := ed25519.Sign(&privkey, []byte(signingString))
	sigEnc := base64.StdEncoding.EncodeToString(sig[:])
	return fmt.Sprintf("keyId=%q,algorithm=%q,headers=%q,signature=%q",
		KeyID, "ed25519", "digest", sigEnc), nil
}

// RequestHeaders returns the digest and signature headers for body.
func (w WalletInfo) RequestHeaders(body string) (map[string]string, error) {
	signature, err := w.SignatureHeader(body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"digest":    DigestHeader(body),
		"signature": signature,
		"accept":    "application/json",
	}, nil
}

// Verify checks that the signature header value signs the digest of body
// under the hex-encoded public key. Used by tests and the mock server.
func Verify(publicKey, body, signatureHeader string) bool {
	keyBytes, err := hex.DecodeString(publicKey)
	if err != nil || len(keyBytes) != ed25519.PublicKeySize {
		return false
	}
	var pubkey [ed25519.PublicKeySize]byte
	copy(pubkey[:], keyBytes)
	var sigEnc string
	for _, field := range strings.Split(signatureHeader, ",") {
		if strings.HasPrefix(field, "signature=") {
			sigEnc = strings.Trim(strings.TrimPrefix(field, "signature="), "\"")
		}
	}
	if sigEnc == "" {
		return false
	}
	sigBytes, err := base64.StdEncoding.DecodeString(sigEnc)
	if err != nil || len(sigBytes) != ed25519.SignatureSize {
		return false
	}
	var sig [ed25519.SignatureSize]byte
	copy(sig[:], sigBytes)
	signingString := "digest: " + DigestHeader(body)
	return ed25519.Verify(&pubkey, []byte(signingString), &sig)
}
