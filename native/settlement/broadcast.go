package settlement

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPDoer abstracts the HTTP client used by the network broadcaster.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPBroadcaster submits signed settlement payloads to a JSON gateway and
// polls a status endpoint for finality.
type HTTPBroadcaster struct {
	client       HTTPDoer
	endpoint     string
	pollInterval time.Duration
}

// NewHTTPBroadcaster constructs a broadcaster for the given gateway endpoint.
func NewHTTPBroadcaster(client HTTPDoer, endpoint string, pollInterval time.Duration) *HTTPBroadcaster {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &HTTPBroadcaster{
		client:       client,
		endpoint:     strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		pollInterval: pollInterval,
	}
}

type submitPayload struct {
	Request struct {
		ID        string `json:"id"`
		Amount    string `json:"amount"`
		Asset     string `json:"asset"`
		Recipient string `json:"recipient"`
	} `json:"request"`
	Signature string `json:"signature"`
}

// Submit posts the signed transfer and returns the gateway's transaction
// reference.
func (b *HTTPBroadcaster) Submit(ctx context.Context, req *Request, signed []byte) (string, error) {
	if req == nil {
		return "", fmt.Errorf("nil request")
	}
	payload := submitPayload{Signature: hex.EncodeToString(signed)}
	payload.Request.ID = req.ID
	payload.Request.Amount = req.Amount.String()
	payload.Request.Asset = req.AssetSymbol
	payload.Request.Recipient = req.Recipient
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/transfers", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	var decoded struct {
		TxRef string `json:"txRef"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if strings.TrimSpace(decoded.TxRef) == "" {
		return "", fmt.Errorf("gateway returned empty transaction reference")
	}
	return decoded.TxRef, nil
}

// AwaitFinality polls the gateway until the transfer is final or ctx expires.
func (b *HTTPBroadcaster) AwaitFinality(ctx context.Context, txRef string) error {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		final, err := b.checkFinality(ctx, txRef)
		if err != nil {
			return err
		}
		if final {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *HTTPBroadcaster) checkFinality(ctx context.Context, txRef string) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"/transfers/"+txRef, nil)
	if err != nil {
		return false, err
	}
	resp, err := b.client.Do(httpReq)
	if err != nil {
		// Transient transport faults keep the poll loop alive; ctx expiry
		// surfaces through the select in AwaitFinality.
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	var decoded struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(decoded.Status)) {
	case "final", "finalized", "confirmed":
		return true, nil
	case "rejected":
		return false, fmt.Errorf("transfer %s rejected by network", txRef)
	default:
		return false, nil
	}
}

// LocalBroadcaster simulates a settlement network in-process: Submit derives
// a deterministic reference from the request digest and AwaitFinality returns
// after a short delay. Used by the demo daemon and tests.
type LocalBroadcaster struct {
	delay time.Duration
}

// NewLocalBroadcaster constructs the simulator with the given finality delay.
func NewLocalBroadcaster(delay time.Duration) *LocalBroadcaster {
	if delay < 0 {
		delay = 0
	}
	return &LocalBroadcaster{delay: delay}
}

func (b *LocalBroadcaster) Submit(_ context.Context, req *Request, _ []byte) (string, error) {
	if req == nil {
		return "", fmt.Errorf("nil request")
	}
	digest := req.Digest()
	return hex.EncodeToString(digest[:]), nil
}

func (b *LocalBroadcaster) AwaitFinality(ctx context.Context, _ string) error {
	if b.delay == 0 {
		return nil
	}
	timer := time.NewTimer(b.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
