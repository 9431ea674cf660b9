package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type tokenSource interface {
	Get() (string, error)
}

type client struct {
	endpoint string
	tokens   tokenSource
	http     *http.Client
}

func newClient(endpoint string, tokens tokenSource) *client {
	return &client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		tokens:   tokens,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("hub returned %d", e.Status)
	}
	return fmt.Sprintf("hub returned %d: %s", e.Status, e.Message)
}

// call issues a request and decodes a JSON response into out when non-nil.
func (c *client) call(method, path string, admin bool, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.endpoint+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		token, err := c.tokens.Get()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &payload)
		return &apiError{Status: resp.StatusCode, Message: payload.Error}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
