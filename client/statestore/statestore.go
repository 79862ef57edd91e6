// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package statestore implements persistent storage for the serialized
// confirmations state document.
package statestore

import (
	"database/sql"
	"errors"
)

var (
	// ErrNotFound is returned if no state is stored under a key.
	ErrNotFound = errors.New("statestore: state not found")
)

// Store persists serialized state documents by key. Save overwrites
// wholesale; there is no incremental persistence.
type Store interface {
	Save(key, state string) error
	Load(key string) (string, error)
}

const (
	createQueryState = `CREATE TABLE IF NOT EXISTS confirmationsState (
							StateKey VARCHAR(255) NOT NULL,
							State TEXT NOT NULL,
							CONSTRAINT StateKey UNIQUE (StateKey)
						);`
	setStateQuery       = `INSERT INTO confirmationsState (StateKey, State) VALUES (?,?);`
	setStateUpdateQuery = `UPDATE confirmationsState SET State=? WHERE StateKey=?;`
	getStateQuery       = `SELECT State FROM confirmationsState WHERE StateKey=?;`
	deleteStateQuery    = `DELETE FROM confirmationsState WHERE StateKey=?;`
)

// Storage implements an SQL-backed Store.
type Storage struct {
	DB                  *sql.DB
	setStateQuery       *sql.Stmt
	setStateUpdateQuery *sql.Stmt
	getStateQuery       *sql.Stmt
	deleteStateQuery    *sql.Stmt
}

// New returns a new Storage, takes an existing DB connection or a sqlite3
// database file as parameter.
func New(db interface{}) (*Storage, error) {
	if dbConn, ok := db.(*sql.DB); ok {
		return NewFromDB(dbConn)
	}
	return NewFromFile(db.(string))
}

// NewFromDB returns a storage for an existing database connection.
func NewFromDB(db *sql.DB) (*Storage, error) {
	ss := new(Storage)
	ss.DB = db
	err := ss.initDB()
	if err != nil {
		return nil, err
	}
	return ss, nil
}

// NewFromFile returns a Storage backed by the sqlite3 database file dbfile.
// The sqlite3 driver must be registered by the caller (the encrypted
// go-sqlcipher driver in production, see the package tests).
func NewFromFile(dbfile string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbfile)
	if err != nil {
		return nil, err
	}
	ss := new(Storage)
	ss.DB = db
	err = ss.initDB()
	if err != nil {
		return nil, err
	}
	return ss, nil
}

func (ss *Storage) initDB() (err error) {
	if _, err := ss.DB.Exec(createQueryState); err != nil {
		return err
	}
	if ss.setStateQuery, err = ss.DB.Prepare(setStateQuery); err != nil {
		return err
	}
	if ss.setStateUpdateQuery, err = ss.DB.Prepare(setStateUpdateQuery); err != nil {
		return err
	}
	if ss.getStateQuery, err = ss.DB.Prepare(getStateQuery); err != nil {
		return err
	}
	if ss.deleteStateQuery, err = ss.DB.Prepare(deleteStateQuery); err != nil {
		return err
	}
	return nil
}

// Save stores state under key, overwriting any previous state.
func (ss *Storage) Save(key, state string) error {
	res, err := ss.setStateUpdateQuery.Exec(state, key)
	if err == nil {
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			return nil
		}
	}
	_, err = ss.setStateQuery.Exec(key, state)
	return err
}

// Load returns the state stored under key, or ErrNotFound.
func (ss *Storage) Load(key string) (string, error) {
	var state string
	err := ss.getStateQuery.QueryRow(key).Scan(&state)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return state, nil
}

// Delete removes the state stored under key, if any.
func (ss *Storage) Delete(key string) error {
	_, err := ss.deleteStateQuery.Exec(key)
	return err
}
