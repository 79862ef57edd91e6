// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package issuers implements the catalog issuer registry. The confirmation
// server publishes a signing public key and a list of issuer keys whose
// display names encode the redemption rate of tokens signed under them.
package issuers

import (
	"strconv"
	"strings"

	"github.com/mutecomm/confirmations/log"
)

// Issuer is one catalog issuer entry.
type Issuer struct {
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
}

// Issuers is the current catalog issuer set. The zero value is empty.
type Issuers struct {
	publicKey string
	issuers   []Issuer
}

// New returns an issuer registry with the given signing key and entries.
func New(publicKey string, issuers []Issuer) *Issuers {
	return &Issuers{
		publicKey: publicKey,
		issuers:   append([]Issuer(nil), issuers...),
	}
}

// PublicKey returns the current catalog signing key.
func (i *Issuers) PublicKey() string {
	return i.publicKey
}

// All returns the issuer entries in catalog order.
func (i *Issuers) All() []Issuer {
	return append([]Issuer(nil), i.issuers...)
}

// Set replaces the registry wholesale. It returns true if a non-empty
// signing key was rotated to a different one, which invalidates all
// unblinded tokens held under the old key.
func (i *Issuers) Set(publicKey string, issuers []Issuer) (rotated bool) {
	rotated = i.publicKey != "" && i.publicKey != publicKey
	i.publicKey = publicKey
	i.issuers = append([]Issuer(nil), issuers...)
	return rotated
}

// IsValid returns true if publicKey belongs to a catalog issuer.
func (i *Issuers) IsValid(publicKey string) bool {
	for _, issuer := range i.issuers {
		if issuer.PublicKey == publicKey {
			return true
		}
	}
	return false
}

// EstimatedRedemptionValue parses the redemption rate out of the display
// name of the issuer with the given public key. Unknown keys and malformed
// names are worth zero.
func (i *Issuers) EstimatedRedemptionValue(publicKey string) float64 {
	for _, issuer := range i.issuers {
		if issuer.PublicKey != publicKey {
			continue
		}
		name := strings.TrimSpace(strings.TrimSuffix(issuer.Name, "BAT"))
		value, err := strconv.ParseFloat(name, 64)
		if err != nil {
			log.Warnf("issuers: invalid catalog issuer name %q", issuer.Name)
			return 0
		}
		return value
	}
	return 0
}
