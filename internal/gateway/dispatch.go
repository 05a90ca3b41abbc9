// internal/gateway/dispatch.go
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/clinicreach-backend/internal/errors"
)

// DispatchRequest is a channel-specific delivery request for the
// external messaging hub.
type DispatchRequest struct {
	RecipientID int    `json:"recipient_id"`
	Channel     string `json:"channel"`
	To          string `json:"to"`
	Template    string `json:"template"`
	Body        string `json:"body"`
}

type DispatchResult struct {
	DispatchID string `json:"dispatch_id"`
	Accepted   bool   `json:"accepted"`
	Reason     string `json:"reason,omitempty"`
}

// MessagingHub is the external transport. The synchronous answer is
// accepted/rejected; the true delivery disposition arrives later via
// the status callback and is recorded for audit only.
type MessagingHub interface {
	Send(ctx context.Context, req DispatchRequest) (DispatchResult, error)
}

// Gateway is the thin adapter the step executor calls. It bounds the
// hub call with a timeout and folds failures into the delivery error
// taxonomy: hub errors and timeouts are transient, rejections permanent.
type Gateway struct {
	Hub     MessagingHub
	Timeout time.Duration
}

func (g *Gateway) Send(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := g.Hub.Send(ctx, req)
	if err != nil {
		return DispatchResult{}, &appErrors.ChannelDeliveryError{Reason: err.Error(), Transient: true}
	}
	if !result.Accepted {
		return result, &appErrors.ChannelDeliveryError{Reason: result.Reason, Transient: false}
	}
	return result, nil
}

// HTTPHub posts dispatch requests to a real messaging hub endpoint.
type HTTPHub struct {
	URL    string
	Client *http.Client
}

func (h *HTTPHub) Send(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return DispatchResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL+"/send", bytes.NewReader(body))
	if err != nil {
		return DispatchResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return DispatchResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return DispatchResult{}, fmt.Errorf("hub returned %d", resp.StatusCode)
	}
	var result DispatchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return DispatchResult{}, err
	}
	return result, nil
}

// MockHub simulates the hub with a 90% accept rate, for local runs and
// seed demos.
type MockHub struct {
	FailRate float64
}

func (h *MockHub) Send(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	failRate := h.FailRate
	if failRate == 0 {
		failRate = 0.1
	}
	if rand.Float64() < failRate {
		return DispatchResult{}, fmt.Errorf("mock sending failed")
	}
	return DispatchResult{DispatchID: uuid.NewString(), Accepted: true}, nil
}
