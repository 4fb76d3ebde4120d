// Package vapi provides the client for the outbound voice-AI calling API.
package vapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"argus_relay/platform/config"
	"argus_relay/platform/logger"
	"argus_relay/platform/validator"
)

// Dispatcher starts outbound calls. Satisfied by *Client.
type Dispatcher interface {
	StartCall(ctx context.Context, req CallRequest) (CallResponse, error)
}

// CallRequest describes one call to place.
type CallRequest struct {
	To          string            `json:"to" validate:"required"`
	From        string            `json:"from,omitempty"`
	AssistantID string            `json:"assistantId,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CallResponse is the calling API's acknowledgement.
type CallResponse struct {
	ID string `json:"id"`
}

// Client talks to the Vapi REST API with a bearer credential.
type Client struct {
	baseURL     string
	apiKey      string
	assistantID string
	fromNumber  string
	http        *http.Client
	val         *validator.Validator
	log         *logger.Logger
}

// NewClient creates a Vapi client. The API key is required.
func NewClient(cfg config.VapiConfig, val *validator.Validator, log *logger.Logger) (*Client, error) {
	if !cfg.IsVapiEnabled() {
		return nil, fmt.Errorf("vapi api key not configured")
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.GetVapiBaseURL(), "/"),
		apiKey:      cfg.GetVapiAPIKey(),
		assistantID: cfg.GetVapiAssistantID(),
		fromNumber:  cfg.GetVapiPhoneNumberID(),
		http:        &http.Client{Timeout: 15 * time.Second},
		val:         val,
		log:         log,
	}, nil
}

// StartCall places an outbound call and returns the call reference. The
// configured assistant and origin number are applied when the request does
// not carry its own.
func (c *Client) StartCall(ctx context.Context, req CallRequest) (CallResponse, error) {
	if req.AssistantID == "" {
		req.AssistantID = c.assistantID
	}
	if req.From == "" {
		req.From = c.fromNumber
	}

	if err := c.val.Struct(req); err != nil {
		return CallResponse{}, fmt.Errorf("invalid call request: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return CallResponse{}, fmt.Errorf("marshal call request: %w", err)
	}

	url := c.baseURL + "/calls"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return CallResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return CallResponse{}, fmt.Errorf("vapi request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return CallResponse{}, fmt.Errorf("vapi returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var call CallResponse
	if err := json.Unmarshal(data, &call); err != nil {
		return CallResponse{}, fmt.Errorf("decode vapi response: %w", err)
	}

	c.log.Info("call dispatched", "callId", call.ID, "to", req.To)
	return call, nil
}

var _ Dispatcher = (*Client)(nil)
