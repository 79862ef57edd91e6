// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tokenstore implements an ordered collection of unblinded tokens.
package tokenstore

import (
	"errors"
)

var (
	// ErrEmptyStore is returned if a token is requested from an empty store.
	ErrEmptyStore = errors.New("tokenstore: no token in store")
)

// UnblindedToken is an unblinded token together with the issuer public key
// it was signed under. Both fields are base64-encoded. Identity is
// structural: two tokens are the same iff both fields match.
type UnblindedToken struct {
	Value     string `json:"unblinded_token"`
	PublicKey string `json:"public_key"`
}

// Equal returns true if two unblinded tokens are structurally identical.
func (t UnblindedToken) Equal(o UnblindedToken) bool {
	return t.Value == o.Value && t.PublicKey == o.PublicKey
}

// Store keeps unblinded tokens in insertion order. Every mutation invokes
// the persist callback before returning. The store itself is not
// synchronized; callers serialize access.
type Store struct {
	tokens  []UnblindedToken
	persist func()
}

// New returns a new Store. persist is called after every mutation; it may
// be nil.
func New(persist func()) *Store {
	s := new(Store)
	s.persist = persist
	return s
}

// AddTokens appends tokens to the store, skipping tokens that are already
// present. It returns the number of tokens actually added.
func (s *Store) AddTokens(tokens []UnblindedToken) int {
	var added int
	for _, token := range tokens {
		if s.TokenExists(token) {
			continue
		}
		s.tokens = append(s.tokens, token)
		added++
	}
	s.save()
	return added
}

// RemoveFirst removes and returns the oldest token in the store.
func (s *Store) RemoveFirst() (*UnblindedToken, error) {
	if len(s.tokens) == 0 {
		return nil, ErrEmptyStore
	}
	token := s.tokens[0]
	s.tokens = s.tokens[1:]
	s.save()
	return &token, nil
}

// RemoveToken removes the given token. It returns false if the token is not
// in the store.
func (s *Store) RemoveToken(token UnblindedToken) bool {
	for i, t := range s.tokens {
		if t.Equal(token) {
			s.tokens = append(s.tokens[:i], s.tokens[i+1:]...)
			s.save()
			return true
		}
	}
	return false
}

// RemoveTokens removes every token in tokens that is present in the store.
func (s *Store) RemoveTokens(tokens []UnblindedToken) {
	kept := s.tokens[:0]
Keep:
	for _, t := range s.tokens {
		for _, remove := range tokens {
			if t.Equal(remove) {
				continue Keep
			}
		}
		kept = append(kept, t)
	}
	s.tokens = kept
	s.save()
}

// RemoveAllTokens empties the store.
func (s *Store) RemoveAllTokens() {
	s.tokens = nil
	s.save()
}

// SetTokens replaces the store contents wholesale.
func (s *Store) SetTokens(tokens []UnblindedToken) {
	s.tokens = append([]UnblindedToken(nil), tokens...)
	s.save()
}

// AllTokens returns a copy of the stored tokens in order.
func (s *Store) AllTokens() []UnblindedToken {
	return append([]UnblindedToken(nil), s.tokens...)
}

// TokenExists returns true if token is in the store.
func (s *Store) TokenExists(token UnblindedToken) bool {
	for _, t := range s.tokens {
		if t.Equal(token) {
			return true
		}
	}
	return false
}

// Count returns the number of tokens in the store.
func (s *Store) Count() int {
	return len(s.tokens)
}

// IsEmpty returns true if the store holds no tokens.
func (s *Store) IsEmpty() bool {
	return len(s.tokens) == 0
}

func (s *Store) save() {
	if s.persist != nil {
		s.persist()
	}
}
