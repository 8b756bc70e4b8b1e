// Package entropy draws fresh run seeds from random.org, falling back to
// crypto/rand when no API key is set or the service is unreachable.
package entropy

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultEndpoint is the random.org JSON-RPC endpoint.
const DefaultEndpoint = "https://api.random.org/json-rpc/4/invoke"

// Source names where a seed came from.
type Source string

const (
	SourceRandomOrg Source = "random.org"
	SourceCrypto    Source = "crypto/rand"
)

// Client fetches 16-bit words from random.org and keeps a local pool so a
// seed costs one request at most every sixteen seeds.
type Client struct {
	apiKey   string
	endpoint string
	client   *http.Client

	mu   sync.Mutex
	pool []uint16
}

// NewClient creates a random.org client. Returns nil if apiKey is empty.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey:   apiKey,
		endpoint: DefaultEndpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// WithEndpoint points the client at a different JSON-RPC endpoint.
func (c *Client) WithEndpoint(url string) *Client {
	if c != nil {
		c.endpoint = url
	}
	return c
}

// Enabled returns true if the client has a valid API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Uint64 returns 64 random bits assembled from four pooled words,
// refilling the pool from random.org when it runs low.
func (c *Client) Uint64(ctx context.Context) (uint64, error) {
	if !c.Enabled() {
		return 0, fmt.Errorf("random.org client has no API key")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pool) < 4 {
		if err := c.refill(ctx); err != nil {
			return 0, err
		}
	}
	if len(c.pool) < 4 {
		return 0, fmt.Errorf("random.org returned %d words, need 4", len(c.pool))
	}

	var v uint64
	for _, w := range c.pool[:4] {
		v = v<<16 | uint64(w)
	}
	c.pool = c.pool[4:]
	return v, nil
}

func (c *Client) refill(ctx context.Context) error {
	req := map[string]any{
		"jsonrpc": "2.0",
		"method":  "generateIntegers",
		"params": map[string]any{
			"apiKey": c.apiKey,
			"n":      64,
			"min":    0,
			"max":    0xFFFF,
		},
		"id": 1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("random.org marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("random.org request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("random.org fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("random.org status %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("random.org read: %w", err)
	}

	var result struct {
		Result struct {
			Random struct {
				Data []int `json:"data"`
			} `json:"random"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("random.org parse: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("random.org API error: %s", result.Error.Message)
	}

	for _, d := range result.Result.Random.Data {
		if d < 0 || d > 0xFFFF {
			return fmt.Errorf("random.org word %d out of range", d)
		}
		c.pool = append(c.pool, uint16(d))
	}
	slog.Debug("random.org pool refilled", "count", len(result.Result.Random.Data))
	return nil
}

// CryptoUint64 returns 64 bits from crypto/rand.
func CryptoUint64() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return binary.LittleEndian.Uint64(buf[:])
}

// Seed draws a fresh run seed from c, or from crypto/rand when c is nil or
// random.org fails. Failures are logged, never returned.
func Seed(ctx context.Context, c *Client) (uint64, Source) {
	if c.Enabled() {
		v, err := c.Uint64(ctx)
		if err == nil {
			return v, SourceRandomOrg
		}
		slog.Warn("random.org unavailable, using crypto/rand", "error", err)
	}
	return CryptoUint64(), SourceCrypto
}
