// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonclient

import (
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("method == %s, want POST", r.Method)
			}
			if r.URL.Path != "/v1/test" {
				t.Errorf("path == %s, want /v1/test", r.URL.Path)
			}
			if r.Header.Get("Content-Type") != "application/json" {
				t.Error("missing JSON content type")
			}
			if r.Header.Get("digest") != "SHA-256=deadbeef" {
				t.Error("missing extra header")
			}
			body, _ := ioutil.ReadAll(r.Body)
			if string(body) != `{"ping":true}` {
				t.Errorf("body == %s", body)
			}
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"nonce":"abc"}`))
		}))
	defer server.Close()

	client, err := New(server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	status, body, err := client.Request(http.MethodPost, "/v1/test",
		map[string]string{"digest": "SHA-256=deadbeef"}, `{"ping":true}`)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusCreated {
		t.Errorf("status == %d, want 201", status)
	}
	data, err := ParseDict(body)
	if err != nil {
		t.Fatal(err)
	}
	if nonce, _ := data["nonce"].(string); nonce != "abc" {
		t.Errorf("nonce == %s, want abc", nonce)
	}
}

func TestParseDict(t *testing.T) {
	if _, err := ParseDict([]byte(`[1,2,3]`)); err != ErrNoDict {
		t.Errorf("ParseDict() returned %v, want ErrNoDict", err)
	}
	if _, err := ParseDict([]byte(`not json`)); err != ErrNoDict {
		t.Errorf("ParseDict() returned %v, want ErrNoDict", err)
	}
}
