// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tokencrypto wraps the challenge-bypass blind-signature primitives.
// All tokens cross package boundaries base64-encoded so that the rest of the
// repository never touches the FFI types directly.
package tokencrypto

import (
	"errors"

	cbr "github.com/brave-intl/challenge-bypass-ristretto-ffi"
	"github.com/mutecomm/confirmations/log"
)

var (
	// ErrEncoding signals that a token could not be encoded or decoded.
	ErrEncoding = errors.New("tokencrypto: bad token encoding")
	// ErrTokenCount signals that token and blinded token counts differ.
	ErrTokenCount = errors.New("tokencrypto: token count mismatch")
)

// Credential is a signed proof of possession of an unblinded token over a
// payload: the signature and the token preimage, both base64.
type Credential struct {
	Signature string `json:"signature"`
	Preimage  string `json:"t"`
}

// GenerateTokens returns count fresh random token pre-images, base64-encoded.
func GenerateTokens(count int) ([]string, error) {
	tokens := make([]string, 0, count)
	for i := 0; i < count; i++ {
		token, err := cbr.RandomToken()
		if err != nil {
			return nil, err
		}
		enc, err := token.MarshalText()
		if err != nil {
			return nil, ErrEncoding
		}
		tokens = append(tokens, string(enc))
	}
	return tokens, nil
}

// BlindTokens blinds token pre-images. The result is positionally matched
// with the input.
func BlindTokens(tokens []string) ([]string, error) {
	blindedTokens := make([]string, 0, len(tokens))
	for _, tokenEnc := range tokens {
		token, err := decodeToken(tokenEnc)
		if err != nil {
			return nil, err
		}
		enc, err := token.Blind().MarshalText()
		if err != nil {
			return nil, ErrEncoding
		}
		blindedTokens = append(blindedTokens, string(enc))
	}
	return blindedTokens, nil
}

// VerifyAndUnblind checks the batch DLEQ proof over the signed tokens and
// returns the unblinded tokens, base64-encoded and positionally matched with
// the input. A proof that does not verify yields an empty slice, not an
// error; malformed encodings are errors.
func VerifyAndUnblind(tokens, blindedTokens, signedTokens []string, batchProof, publicKey string) ([]string, error) {
	if len(tokens) != len(blindedTokens) || len(tokens) != len(signedTokens) {
		return nil, ErrTokenCount
	}
	decodedTokens := make([]*cbr.Token, 0, len(tokens))
	for _, enc := range tokens {
		token, err := decodeToken(enc)
		if err != nil {
			return nil, err
		}
		decodedTokens = append(decodedTokens, token)
	}
	decodedBlindedTokens := make([]*cbr.BlindedToken, 0, len(blindedTokens))
	for _, enc := range blindedTokens {
		blindedToken := new(cbr.BlindedToken)
		if err := blindedToken.UnmarshalText([]byte(enc)); err != nil {
			return nil, ErrEncoding
		}
		decodedBlindedTokens = append(decodedBlindedTokens, blindedToken)
	}
	decodedSignedTokens := make([]*cbr.SignedToken, 0, len(signedTokens))
	for _, enc := range signedTokens {
		signedToken := new(cbr.SignedToken)
		if err := signedToken.UnmarshalText([]byte(enc)); err != nil {
			return nil, ErrEncoding
		}
		decodedSignedTokens = append(decodedSignedTokens, signedToken)
	}
	proof := new(cbr.BatchDLEQProof)
	if err := proof.UnmarshalText([]byte(batchProof)); err != nil {
		return nil, ErrEncoding
	}
	pubKey := new(cbr.PublicKey)
	if err := pubKey.UnmarshalText([]byte(publicKey)); err != nil {
		return nil, ErrEncoding
	}
	unblindedTokens, err := proof.VerifyAndUnblind(decodedTokens,
		decodedBlindedTokens, decodedSignedTokens, pubKey)
	if err != nil {
		// the proof did not verify against the batch
		log.Debugf("tokencrypto: verify and unblind failed: %s", err)
		return []string{}, nil
	}
	unblindedTokensEnc := make([]string, 0, len(unblindedTokens))
	for _, unblindedToken := range unblindedTokens {
		enc, err := unblindedToken.MarshalText()
		if err != nil {
			return nil, ErrEncoding
		}
		unblindedTokensEnc = append(unblindedTokensEnc, string(enc))
	}
	return unblindedTokensEnc, nil
}

// DeriveCredential signs payload with the verification key derived from an
// unblinded token and returns the credential proving possession of it.
func DeriveCredential(unblindedToken, payload string) (*Credential, error) {
	token := new(cbr.UnblindedToken)
	if err := token.UnmarshalText([]byte(unblindedToken)); err != nil {
		return nil, ErrEncoding
	}
	signature, err := token.DeriveVerificationKey().Sign(payload)
	if err != nil {
		return nil, err
	}
	signatureEnc, err := signature.MarshalText()
	if err != nil {
		return nil, ErrEncoding
	}
	preimageEnc, err := token.Preimage().MarshalText()
	if err != nil {
		return nil, ErrEncoding
	}
	return &Credential{
		Signature: string(signatureEnc),
		Preimage:  string(preimageEnc),
	}, nil
}

func decodeToken(enc string) (*cbr.Token, error) {
	token := new(cbr.Token)
	if err := token.UnmarshalText([]byte(enc)); err != nil {
		return nil, ErrEncoding
	}
	return token, nil
}
