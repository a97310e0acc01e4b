package carrier

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.twilio.com"

// Caller places outbound calls through the gateway's REST API.
type Caller struct {
	httpClient *http.Client
	apiBase    string
	accountSid string
	authToken  string
	from       string
}

// CallerOption is a functional option for [NewCaller].
type CallerOption func(*Caller)

// WithCallerHTTPClient replaces the HTTP client.
func WithCallerHTTPClient(c *http.Client) CallerOption {
	return func(cl *Caller) { cl.httpClient = c }
}

// WithAPIBase replaces the REST API base URL.
func WithAPIBase(base string) CallerOption {
	return func(cl *Caller) { cl.apiBase = strings.TrimSuffix(base, "/") }
}

// NewCaller creates a Caller authenticated as accountSid, dialing out from
// the given number.
func NewCaller(accountSid, authToken, from string, opts ...CallerOption) *Caller {
	c := &Caller{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		apiBase:    defaultAPIBase,
		accountSid: accountSid,
		authToken:  authToken,
		from:       from,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Place starts an outbound call to the given number. The gateway fetches
// twimlURL once the callee answers. Returns the call SID and its initial
// status.
func (c *Caller) Place(ctx context.Context, to, twimlURL string) (sid, status string, err error) {
	form := url.Values{
		"To":     {to},
		"From":   {c.from},
		"Url":    {twimlURL},
		"Method": {http.MethodPost},
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.apiBase, c.accountSid)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", fmt.Errorf("carrier: build call request: %w", err)
	}
	req.SetBasicAuth(c.accountSid, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("carrier: place call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", "", fmt.Errorf("carrier: place call: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var body struct {
		Sid    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", fmt.Errorf("carrier: decode call response: %w", err)
	}
	return body.Sid, body.Status, nil
}

// TriggerHandler exposes call placement over HTTP. Requests must POST with
// a matching bearer token; responses are JSON.
func TriggerHandler(caller *Caller, token, to, twimlURL string) http.HandlerFunc {
	type response struct {
		OK      bool   `json:"ok"`
		CallSid string `json:"call_sid,omitempty"`
		Status  string `json:"status,omitempty"`
		Error   string `json:"error,omitempty"`
	}
	write := func(w http.ResponseWriter, code int, resp response) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			write(w, http.StatusMethodNotAllowed, response{Error: "method not allowed"})
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			write(w, http.StatusUnauthorized, response{Error: "unauthorized"})
			return
		}

		sid, status, err := caller.Place(r.Context(), to, twimlURL)
		if err != nil {
			// Vendor error detail stays in the log; the response is generic.
			slog.Error("outbound call failed", "error", err)
			write(w, http.StatusInternalServerError, response{Error: "call placement failed"})
			return
		}
		slog.Info("outbound call placed", "call_sid", sid, "status", status)
		write(w, http.StatusOK, response{OK: true, CallSid: sid, Status: status})
	}
}
