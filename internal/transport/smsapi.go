package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultSMSAPIEndpoint = "https://api.smsapi.pl/sms.do"

// SMSAPIClient delivers messages through the SMSAPI HTTP gateway.
type SMSAPIClient struct {
	endpoint   string
	token      string
	from       string
	httpClient *http.Client
	logger     *zerolog.Logger
}

// NewSMSAPIClient constructs a client with the bearer token and sender name.
func NewSMSAPIClient(token, from string, logger *zerolog.Logger) *SMSAPIClient {
	return &SMSAPIClient{
		endpoint:   defaultSMSAPIEndpoint,
		token:      token,
		from:       from,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// WithEndpoint overrides the gateway URL. Used by tests.
func (c *SMSAPIClient) WithEndpoint(endpoint string) *SMSAPIClient {
	c.endpoint = endpoint
	return c
}

// Name implements Transport.
func (c *SMSAPIClient) Name() string { return "smsapi" }

type smsapiRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
	From    string `json:"from"`
	Format  string `json:"format"`
	// Idx is a client-assigned correlation id echoed back by the provider.
	Idx string `json:"idx,omitempty"`
}

type smsapiResponse struct {
	List []struct {
		ID string `json:"id"`
	} `json:"list"`
	Message string `json:"message"`
}

// Send implements Transport.
func (c *SMSAPIClient) Send(ctx context.Context, toE164, body string) DeliveryResult {
	payload := smsapiRequest{
		To:      toE164,
		Message: body,
		From:    c.from,
		Format:  "json",
		Idx:     uuid.NewString(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return DeliveryResult{Error: fmt.Sprintf("marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return DeliveryResult{Error: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return DeliveryResult{Error: fmt.Sprintf("http: %v", err)}
	}
	defer resp.Body.Close()

	var parsed smsapiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return DeliveryResult{Error: fmt.Sprintf("decode response (http %d): %v", resp.StatusCode, err)}
	}

	if resp.StatusCode >= 300 || parsed.Message != "" && len(parsed.List) == 0 {
		reason := parsed.Message
		if reason == "" {
			reason = fmt.Sprintf("http %d", resp.StatusCode)
		}
		if c.logger != nil {
			c.logger.Error().Str("to", toE164).Str("error", reason).Msg("smsapi send failed")
		}
		return DeliveryResult{Error: reason}
	}

	var messageID string
	if len(parsed.List) > 0 {
		messageID = parsed.List[0].ID
	}
	if c.logger != nil {
		c.logger.Info().Str("to", toE164).Str("message_id", messageID).Msg("sms sent via smsapi")
	}
	return DeliveryResult{Success: true, ProviderMessageID: messageID}
}
