package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const authTimeout = 10 * time.Second

// fetchTicket obtains a session ticket. With an auth URL the bot
// registers its account (409 means a previous run already did) and logs
// in; with no auth URL the bot name doubles as the ticket, which only
// works against a stubbed verify endpoint.
func (b *Bot) fetchTicket(ctx context.Context) (string, error) {
	if b.cfg.AuthURL == "" {
		return b.cfg.Name, nil
	}

	client := &http.Client{Timeout: authTimeout}
	base := strings.TrimRight(b.cfg.AuthURL, "/")
	creds := map[string]string{
		"username": b.cfg.Name,
		"password": "stress-" + b.cfg.Name,
	}

	status, _, err := postJSON(ctx, client, base+"/api/auth/register", creds)
	if err != nil {
		return "", fmt.Errorf("register: %w", err)
	}
	if status != http.StatusOK && status != http.StatusConflict {
		return "", fmt.Errorf("register: status %d", status)
	}

	status, body, err := postJSON(ctx, client, base+"/api/auth/login", creds)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("login: status %d", status)
	}

	var resp struct {
		Success       bool   `json:"success"`
		SessionTicket string `json:"sessionTicket"`
		Message       string `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("login response: %w", err)
	}
	if !resp.Success || resp.SessionTicket == "" {
		return "", fmt.Errorf("login refused: %s", resp.Message)
	}
	return resp.SessionTicket, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) (int, []byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}
