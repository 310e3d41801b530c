package ton

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrUnavailable means the API kept failing at the transport level
	ErrUnavailable = errors.New("ton api unavailable")
	// ErrTransactionNotFound means the transaction did not appear before the deadline
	ErrTransactionNotFound = errors.New("transaction not found within timeout")

	ErrWrongDestination = errors.New("transaction sent to another wallet")
	ErrAmountTooLow     = errors.New("transaction value below price")
	ErrMemoMismatch     = errors.New("transaction memo does not match")
	ErrNotSuccessful    = errors.New("transaction failed on chain")
)

// errTransient marks failures worth another poll
var errTransient = errors.New("transient")

// Client is a TON API client
type Client struct {
	baseURL          string
	apiKey           string
	httpClient       *http.Client
	network          Network
	pollInterval     time.Duration
	transportRetries int
}

// Option tweaks a Client
type Option func(*Client)

// WithBaseURL points the client at another API root, e.g. a test server
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithPollInterval sets the delay between lookups in WaitForTransaction
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithTransportRetries bounds consecutive transport failures tolerated while polling
func WithTransportRetries(n int) Option {
	return func(c *Client) { c.transportRetries = n }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a new TON API client
func NewClient(network Network, apiKey string, opts ...Option) *Client {
	baseURL := TonAPIMainnet
	if network == NetworkTestnet {
		baseURL = TonAPITestnet
	}

	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		network: network,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		pollInterval:     2 * time.Second,
		transportRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transaction represents a TON transaction
type Transaction struct {
	Hash      string    `json:"hash"`
	Lt        int64     `json:"lt"`
	Account   string    `json:"account"`
	Now       int64     `json:"now"`
	TotalFees int64     `json:"total_fees"`
	InMsg     *Message  `json:"in_msg"`
	OutMsgs   []Message `json:"out_msgs"`
	Success   bool      `json:"success"`
}

// Message represents a TON message
type Message struct {
	Source      string       `json:"source"`
	Destination string       `json:"destination"`
	Value       int64        `json:"value"`
	Bounce      bool         `json:"bounce"`
	Body        string       `json:"body"`
	DecodedBody *DecodedBody `json:"decoded_body"`
}

// DecodedBody represents decoded message body
type DecodedBody struct {
	Text string `json:"text"`
}

// GetTransaction retrieves a specific transaction by hash. A transaction the
// API does not know yet is reported as nil, nil.
func (c *Client) GetTransaction(ctx context.Context, hash string) (*Transaction, error) {
	url := fmt.Sprintf("%s/blockchain/transactions/%s", c.baseURL, hash)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", errTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: API error: %s", errTransient, resp.Status)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	var tx Transaction
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return nil, err
	}

	return &tx, nil
}

// WaitForTransaction polls until the transaction appears, the timeout passes or
// transport failures exceed the retry budget.
func (c *Client) WaitForTransaction(ctx context.Context, hash string, timeout time.Duration) (*Transaction, error) {
	deadline := time.Now().Add(timeout)
	failures := 0

	for {
		tx, err := c.GetTransaction(ctx, hash)
		switch {
		case errors.Is(err, errTransient):
			failures++
			if failures > c.transportRetries {
				return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
			}
		case err != nil:
			return nil, err
		case tx != nil:
			return tx, nil
		default:
			failures = 0
		}

		if !time.Now().Add(c.pollInterval).Before(deadline) {
			return nil, ErrTransactionNotFound
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// VerifyPayment checks that tx paid at least minNano to wallet with the given memo
func VerifyPayment(tx *Transaction, wallet string, minNano int64, memo string) error {
	if !tx.Success {
		return ErrNotSuccessful
	}
	if tx.InMsg == nil || !strings.EqualFold(strings.TrimSpace(tx.InMsg.Destination), strings.TrimSpace(wallet)) {
		return ErrWrongDestination
	}
	if tx.InMsg.Value < minNano {
		return ErrAmountTooLow
	}
	if strings.TrimSpace(ExtractMemo(tx)) != memo {
		return ErrMemoMismatch
	}
	return nil
}

// ExtractMemo extracts text memo from a transaction
func ExtractMemo(tx *Transaction) string {
	if tx.InMsg != nil && tx.InMsg.DecodedBody != nil {
		return tx.InMsg.DecodedBody.Text
	}
	return ""
}
