// Package client is the HTTP client for the goldium API server.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client is the HTTP client for the goldium service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new goldium service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Balance is a wallet's SOL and GOLD balance.
type Balance struct {
	Address        string    `json:"address"`
	Network        string    `json:"network"`
	NativeLamports uint64    `json:"native_lamports"`
	NativeAmount   float64   `json:"native_amount"`
	TokenMint      string    `json:"token_mint"`
	TokenAmount    uint64    `json:"token_amount"`
	TokenDecimals  uint8     `json:"token_decimals"`
	TokenUIAmount  float64   `json:"token_ui_amount"`
	FetchedAt      time.Time `json:"fetched_at"`
	NativeErr      string    `json:"native_error,omitempty"`
	TokenErr       string    `json:"token_error,omitempty"`
	Source         string    `json:"source"`
	ExplorerURL    string    `json:"explorer_url"`
}

// Transaction is one classified history entry.
type Transaction struct {
	Signature    string     `json:"signature"`
	Slot         uint64     `json:"slot"`
	BlockTime    *time.Time `json:"block_time,omitempty"`
	TimestampMs  int64      `json:"timestamp_ms"`
	Network      string     `json:"network"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	Amount       *float64   `json:"amount,omitempty"`
	AmountRaw    uint64     `json:"amount_raw"`
	Decimals     uint8      `json:"decimals"`
	Token        string     `json:"token"`
	TokenMint    *string    `json:"token_mint,omitempty"`
	Fee          float64    `json:"fee"`
	FromAddress  *string    `json:"from_address,omitempty"`
	ToAddress    *string    `json:"to_address,omitempty"`
	ProgramID    *string    `json:"program_id,omitempty"`
	Memo         *string    `json:"memo,omitempty"`
	Error        *string    `json:"error,omitempty"`
	ClassifiedBy string     `json:"classified_by"`
	Description  string     `json:"description"`
	ExplorerURL  string     `json:"explorer_url"`
}

// TransactionQuery selects and filters history. Zero fields are omitted.
type TransactionQuery struct {
	Network string
	Source  string // "chain" (default) or "db"
	Limit   int
	Before  string // signature for chain, time for db
	Type    string
	From    string // RFC3339 or YYYY-MM-DD
	To      string
	Min     *float64
	Max     *float64
	Token   string
}

func (q TransactionQuery) values() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("network", q.Network)
	set("source", q.Source)
	set("before", q.Before)
	set("type", q.Type)
	set("from", q.From)
	set("to", q.To)
	set("token", q.Token)
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Min != nil {
		v.Set("min", strconv.FormatFloat(*q.Min, 'f', -1, 64))
	}
	if q.Max != nil {
		v.Set("max", strconv.FormatFloat(*q.Max, 'f', -1, 64))
	}
	return v
}

// Token is display metadata for a mint.
type Token struct {
	Address     string `json:"address"`
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Decimals    uint8  `json:"decimals"`
	URI         string `json:"uri,omitempty"`
	Valid       bool   `json:"valid"`
	ExplorerURL string `json:"explorer_url"`
}

// FieldResult is the outcome of validating one field.
type FieldResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// TransferRequest describes a transfer in UI units.
type TransferRequest struct {
	Network      string `json:"network,omitempty"`
	Sender       string `json:"sender"`
	Recipient    string `json:"recipient"`
	Amount       string `json:"amount"`
	Asset        string `json:"asset"`
	CheckBalance bool   `json:"check_balance,omitempty"`
}

// Instruction summarizes one instruction of a built transfer.
type Instruction struct {
	ProgramID string   `json:"program_id"`
	Accounts  []string `json:"accounts"`
}

// Transfer is an unsigned transaction ready for the sender to sign.
type Transfer struct {
	Transaction             string        `json:"transaction"`
	Asset                   string        `json:"asset"`
	Sender                  string        `json:"sender"`
	Recipient               string        `json:"recipient"`
	Amount                  string        `json:"amount"`
	AmountRaw               uint64        `json:"amount_raw"`
	Decimals                uint8         `json:"decimals"`
	SenderTokenAccount      *string       `json:"sender_token_account,omitempty"`
	RecipientTokenAccount   *string       `json:"recipient_token_account,omitempty"`
	CreatesRecipientAccount bool          `json:"creates_recipient_account"`
	Instructions            []Instruction `json:"instructions"`
}

// Submission is the result of submitting a signed transaction.
type Submission struct {
	Signature   string `json:"signature"`
	Status      string `json:"status"`
	ExplorerURL string `json:"explorer_url"`
}

// WatchedWallet is a wallet registered for background sync.
type WatchedWallet struct {
	Address      string        `json:"address"`
	Network      string        `json:"network"`
	TokenMint    string        `json:"token_mint"`
	PollInterval time.Duration `json:"-"`
	LastPollTime *time.Time    `json:"last_poll_time,omitempty"`
	Status       string        `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// UnmarshalJSON parses the server's string poll interval ("30s").
func (w *WatchedWallet) UnmarshalJSON(data []byte) error {
	type alias WatchedWallet
	aux := struct {
		*alias
		PollInterval string `json:"poll_interval"`
	}{alias: (*alias)(w)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.PollInterval == "" {
		return nil
	}
	d, err := time.ParseDuration(aux.PollInterval)
	if err != nil {
		return fmt.Errorf("invalid poll_interval %q: %w", aux.PollInterval, err)
	}
	w.PollInterval = d
	return nil
}

// Event is one server-sent event.
type Event struct {
	Type string
	Data json.RawMessage
}

// Balance fetches a wallet's balances. source is "chain" or "db"; empty means chain.
func (c *Client) Balance(ctx context.Context, address, network, source string) (*Balance, error) {
	q := url.Values{}
	if network != "" {
		q.Set("network", network)
	}
	if source != "" {
		q.Set("source", source)
	}
	var out Balance
	err := c.do(ctx, http.MethodGet, "/api/v1/wallets/"+url.PathEscape(address)+"/balance", q, nil, &out, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Transactions fetches a wallet's classified history, newest first.
func (c *Client) Transactions(ctx context.Context, address string, query TransactionQuery) ([]Transaction, error) {
	var out struct {
		Transactions []Transaction `json:"transactions"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/wallets/"+url.PathEscape(address)+"/transactions", query.values(), nil, &out, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// Token fetches token metadata. mint may be "SOL".
func (c *Client) Token(ctx context.Context, mint, network string) (*Token, error) {
	q := url.Values{}
	if network != "" {
		q.Set("network", network)
	}
	var out Token
	if err := c.do(ctx, http.MethodGet, "/api/v1/tokens/"+url.PathEscape(mint), q, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateAddress asks the server whether address is a valid Solana address.
func (c *Client) ValidateAddress(ctx context.Context, address string) (FieldResult, error) {
	out, err := c.validate(ctx, map[string]any{"address": address})
	return out["address"], err
}

// ValidateAmount checks a transfer amount, against balance when it is non-nil.
func (c *Client) ValidateAmount(ctx context.Context, amount string, balance *float64) (FieldResult, error) {
	body := map[string]any{"amount": amount}
	if balance != nil {
		body["balance"] = *balance
	}
	out, err := c.validate(ctx, body)
	return out["amount"], err
}

func (c *Client) validate(ctx context.Context, body map[string]any) (map[string]FieldResult, error) {
	var out map[string]FieldResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/validate", nil, body, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out, nil
}

// BuildTransfer asks the server for an unsigned transfer transaction.
func (c *Client) BuildTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	var out Transfer
	if err := c.do(ctx, http.MethodPost, "/api/v1/transfers", nil, req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	c.logger.Debug("transfer built", "asset", out.Asset, "amount", out.Amount, "instructions", len(out.Instructions))
	return &out, nil
}

// SubmitTransfer sends a signed base64 transaction and waits for confirmation.
func (c *Client) SubmitTransfer(ctx context.Context, network, signedTx string) (*Submission, error) {
	body := map[string]string{"network": network, "transaction": signedTx}
	var out Submission
	if err := c.do(ctx, http.MethodPost, "/api/v1/transfers/submit", nil, body, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Watch registers a wallet for background sync. A zero interval uses the
// server default.
func (c *Client) Watch(ctx context.Context, address, network string, pollInterval time.Duration) (*WatchedWallet, error) {
	body := map[string]string{"address": address, "network": network}
	if pollInterval > 0 {
		body["poll_interval"] = pollInterval.String()
	}
	var out WatchedWallet
	if err := c.do(ctx, http.MethodPost, "/api/v1/watch", nil, body, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	c.logger.Debug("wallet watched", "address", address, "poll_interval", out.PollInterval)
	return &out, nil
}

// Unwatch stops background sync for a wallet.
func (c *Client) Unwatch(ctx context.Context, address, network string) error {
	q := url.Values{}
	if network != "" {
		q.Set("network", network)
	}
	return c.do(ctx, http.MethodDelete, "/api/v1/watch/"+url.PathEscape(address), q, nil, nil, http.StatusNoContent)
}

// ListWatched lists wallets registered for background sync.
func (c *Client) ListWatched(ctx context.Context) ([]WatchedWallet, error) {
	var out struct {
		Wallets []WatchedWallet `json:"wallets"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/watch", nil, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Wallets, nil
}

// Health returns the server's health status.
func (c *Client) Health(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &out, http.StatusOK); err != nil {
		return out, err
	}
	return out, nil
}

// Stream reads a wallet's server-sent events and calls fn for each until
// ctx is done, the server closes the stream, or fn returns an error.
// Keepalive comments are skipped.
func (c *Client) Stream(ctx context.Context, address string, fn func(Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/stream/"+url.PathEscape(address), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// the shared client's timeout would cut the stream
	streamClient := *c.httpClient
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var event Event
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event.Type != "" || event.Data != nil {
				if err := fn(event); err != nil {
					return err
				}
			}
			event = Event{}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event.Type = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			event.Data = append(event.Data, strings.TrimSpace(strings.TrimPrefix(line, "data:"))...)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, want int) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse turns an error body into an *APIError.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
