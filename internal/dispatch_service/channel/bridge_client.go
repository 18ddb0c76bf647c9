package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// BridgeClient delivers messages through the WhatsApp bridge service, the
// long-lived session process that owns the actual provider connection.
type BridgeClient struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	sessionID  string
}

// NewBridgeClient creates a client for the bridge at baseURL using the given
// session. A nil httpClient gets a default with a bounded timeout.
func NewBridgeClient(logger *slog.Logger, baseURL, sessionID string, httpClient *http.Client) *BridgeClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &BridgeClient{
		logger:     logger.With("channel", "whatsapp_bridge"),
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		sessionID:  sessionID,
	}
}

type bridgeSendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type bridgeSendResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SendOne posts a single message to the bridge. The recipient is reduced to
// digits before posting, matching what the bridge expects.
func (c *BridgeClient) SendOne(ctx context.Context, recipient, message string) error {
	phone := digitsOnly(recipient)
	if phone == "" {
		return fmt.Errorf("recipient %q has no digits", recipient)
	}

	body, err := json.Marshal(bridgeSendRequest{Phone: phone, Message: message})
	if err != nil {
		return fmt.Errorf("marshal bridge request: %w", err)
	}

	url := fmt.Sprintf("%s/api/send/%s", c.baseURL, c.sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bridge request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read bridge response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.WarnContext(ctx, "bridge returned non-OK status",
			"status_code", resp.StatusCode, "body_len", len(respBody))
		return fmt.Errorf("bridge returned status %d", resp.StatusCode)
	}

	var parsed bridgeSendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("decode bridge response: %w", err)
	}
	if !parsed.Success {
		if parsed.Error != "" {
			return fmt.Errorf("bridge rejected send: %s", parsed.Error)
		}
		return fmt.Errorf("bridge rejected send")
	}
	return nil
}

// Name returns the channel name.
func (c *BridgeClient) Name() string {
	return "whatsapp_bridge"
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
