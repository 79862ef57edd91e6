// Package jsonclient contains a JSON-over-HTTPS client for the
// confirmation server.
package jsonclient

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
)

var (
	// ErrCertLoad signals a loading error of the certificate
	ErrCertLoad = errors.New("jsonclient: certificate load failed")
	// ErrNoDict signals that a response body is not a JSON dictionary
	ErrNoDict = errors.New("jsonclient: response is not a JSON dictionary")
)

// URLClient is a client for JSON-over-HTTPS calls.
type URLClient struct {
	transport *http.Transport
	baseURL   string
}

// New creates a new JSON-over-HTTPS client for the given base URL which uses
// the given certificate to communicate with the server if the scheme of the
// URL is https. cert may be nil to use the system pool.
func New(baseURL string, cert []byte) (*URLClient, error) {
	var pool *x509.CertPool
	transport := new(http.Transport)
	urlparsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if urlparsed.Scheme == "https" && cert != nil {
		pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM(cert) {
			return nil, ErrCertLoad
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}
	return &URLClient{transport: transport, baseURL: baseURL}, nil
}

// Request performs an HTTP request against path with the given method,
// extra headers and JSON body (may be empty). It returns the response
// status code and body.
func (c *URLClient) Request(method, path string, headers map[string]string, body string) (int, []byte, error) {
	client := &http.Client{Transport: c.transport}
	request, err := http.NewRequest(method, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	resp, err := client.Do(request)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	responseBody, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

// ParseDict parses a response body into a JSON dictionary.
func ParseDict(body []byte) (map[string]interface{}, error) {
	reply := make(map[string]interface{})
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, ErrNoDict
	}
	return reply, nil
}
