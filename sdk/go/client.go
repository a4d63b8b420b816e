package intentpaysdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal IntentPay HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User represents the API wallet model (partial).
type User struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	VPA             string `json:"vpa"`
	WalletBalance   int64  `json:"wallet_balance"`
	LockedBalance   int64  `json:"locked_balance"`
	ReputationScore int    `json:"reputation_score"`
}

// Intent represents an active spending policy (partial).
type Intent struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	RawText         string `json:"raw_text"`
	Status          string `json:"status"`
	AmountLocked    int64  `json:"amount_locked"`
	AmountUsed      int64  `json:"amount_used"`
	AmountRemaining int64  `json:"amount_remaining"`
	ExpiresAt       string `json:"expires_at"`
}

// CheckResult is one stage of the payment pipeline.
type CheckResult struct {
	Name      string `json:"name"`
	Evaluated bool   `json:"evaluated"`
	Passed    bool   `json:"passed"`
	Detail    string `json:"detail,omitempty"`
}

// ValidationResult is the pipeline verdict for a payment.
type ValidationResult struct {
	Approved        bool          `json:"approved"`
	Emergency       bool          `json:"emergency,omitempty"`
	FailedAtCheck   string        `json:"failed_at_check,omitempty"`
	ViolationReason string        `json:"violation_reason,omitempty"`
	SettlementRef   string        `json:"settlement_ref,omitempty"`
	Checks          []CheckResult `json:"checks"`
}

// PaymentOutcome bundles the settled transaction with its verdict.
type PaymentOutcome struct {
	Result ValidationResult `json:"result"`
	Intent *Intent          `json:"intent,omitempty"`
}

// Escrow represents a milestone-locked fund (partial).
type Escrow struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	Title          string      `json:"title"`
	TotalAmount    int64       `json:"total_amount"`
	ReleasedAmount int64       `json:"released_amount"`
	PendingAmount  int64       `json:"pending_amount"`
	Status         string      `json:"status"`
	Milestones     []Milestone `json:"milestones,omitempty"`
}

// Milestone is one release step of an escrow.
type Milestone struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	Status      string `json:"status"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	UserID     string `json:"user_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// DevLogin mints a bearer token from the dev login endpoint and stores
// it on the client for subsequent calls.
func (c *Client) DevLogin(ctx context.Context, userID string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "v0/auth/dev/login", map[string]any{
		"user_id": userID,
	}, &resp)
	if err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

// GetUser returns wallet balances.
func (c *Client) GetUser(ctx context.Context, userID string) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "v0/users/"+url.PathEscape(userID), nil, &resp)
	return resp, err
}

// CreateIntent compiles intent text server-side and locks funds.
func (c *Client) CreateIntent(ctx context.Context, userID, text string) (Intent, error) {
	var resp Intent
	err := c.do(ctx, http.MethodPost, "v0/intents", map[string]any{
		"user_id": userID,
		"text":    text,
	}, &resp)
	return resp, err
}

// ListIntents returns a user's intents.
func (c *Client) ListIntents(ctx context.Context, userID string) ([]Intent, error) {
	var resp []Intent
	err := c.do(ctx, http.MethodGet, "v0/users/"+url.PathEscape(userID)+"/intents", nil, &resp)
	return resp, err
}

// ValidatePayment runs a payment through the rule pipeline. Amount is
// in paise.
func (c *Client) ValidatePayment(ctx context.Context, userID, merchantID string, amount int64) (PaymentOutcome, error) {
	var resp PaymentOutcome
	err := c.do(ctx, http.MethodPost, "v0/payments/validate", map[string]any{
		"user_id":     userID,
		"merchant_id": merchantID,
		"amount":      amount,
	}, &resp)
	return resp, err
}

// CancelIntent releases the remaining locked balance.
func (c *Client) CancelIntent(ctx context.Context, intentID string) (Intent, error) {
	var resp struct {
		Intent Intent `json:"intent"`
	}
	endpoint := fmt.Sprintf("v0/intents/%s/cancel", url.PathEscape(intentID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp.Intent, err
}

// EscrowMilestone describes a milestone for escrow creation.
type EscrowMilestone struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	ProofKind   string `json:"proof_kind,omitempty"`
}

// CreateEscrow locks the milestone total into a new escrow.
func (c *Client) CreateEscrow(ctx context.Context, userID, title string, milestones []EscrowMilestone) (Escrow, error) {
	var resp Escrow
	err := c.do(ctx, http.MethodPost, "v0/escrows", map[string]any{
		"user_id":    userID,
		"title":      title,
		"milestones": milestones,
	}, &resp)
	return resp, err
}

// ReleaseMilestone completes a milestone and pays out its amount.
func (c *Client) ReleaseMilestone(ctx context.Context, escrowID, milestoneID string, proofProvided bool) (Escrow, error) {
	var resp struct {
		Escrow Escrow `json:"escrow"`
	}
	endpoint := fmt.Sprintf("v0/escrows/%s/milestones/%s/release",
		url.PathEscape(escrowID), url.PathEscape(milestoneID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{
		"proof_provided": proofProvided,
	}, &resp)
	return resp.Escrow, err
}

// Clawback pulls pending funds back out of an escrow.
func (c *Client) Clawback(ctx context.Context, escrowID, reason string) (Escrow, error) {
	var resp struct {
		Escrow Escrow `json:"escrow"`
	}
	endpoint := fmt.Sprintf("v0/escrows/%s/clawback", url.PathEscape(escrowID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{
		"reason": reason,
	}, &resp)
	return resp.Escrow, err
}

// Events returns recent audit entries for a user.
func (c *Client) Events(ctx context.Context, userID string, limit int) ([]Event, error) {
	endpoint := "v0/users/" + url.PathEscape(userID) + "/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
