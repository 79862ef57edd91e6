// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"errors"
)

var (
	// ErrRetry is returned on recoverable errors. The owning engine has
	// scheduled a retry, details are in client.LastError.
	ErrRetry = errors.New("client: retry")
	// ErrFatal is returned on fatal errors produced by the client
	// implementation itself, such as unavailable processing or storage.
	ErrFatal = errors.New("client: fatal client error")
	// ErrNoTokens is returned if the token store holds no unblinded tokens.
	ErrNoTokens = errors.New("client: no unblinded tokens")
	// ErrInvalidWallet is returned if no valid wallet has been set.
	ErrInvalidWallet = errors.New("client: invalid wallet")
	// ErrNotFound is returned if a confirmation is not in the retry queue.
	ErrNotFound = errors.New("client: confirmation not found")
)
