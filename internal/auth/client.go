// Package auth talks to the external authentication service that issues
// and verifies session tickets.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Negative error codes classify where a verify attempt failed. They are
// diagnostic only; clients treat every non-success the same way.
const (
	CodeResolve     int32 = -1
	CodeConnect     int32 = -2
	CodeWrite       int32 = -4
	CodeRead        int32 = -5
	CodeBadResponse int32 = -6
	CodeParse       int32 = -7
	CodeOther       int32 = -8
	CodeUnavailable int32 = -99
)

const verifyTimeout = 10 * time.Second

// PlayerInfo is the identity block the auth service returns on success.
type PlayerInfo struct {
	PlayerID uint64  `json:"playerId"`
	Name     string  `json:"name"`
	PosX     float32 `json:"posX"`
	PosY     float32 `json:"posY"`
	HP       int32   `json:"hp"`
	MaxHP    int32   `json:"maxHp"`
}

// VerifyResult is the outcome of one ticket verification.
type VerifyResult struct {
	Success      bool
	Player       PlayerInfo
	ErrorCode    int32
	ErrorMessage string
}

type verifyWire struct {
	Success      *bool       `json:"success"`
	PlayerInfo   *PlayerInfo `json:"playerInfo"`
	ErrorCode    int32       `json:"errorCode"`
	ErrorMessage string      `json:"errorMessage"`
}

// Client verifies session tickets over HTTP.
type Client struct {
	verifyURL string
	http      *http.Client
	log       *zap.Logger
}

func NewClient(host string, port int, log *zap.Logger) *Client {
	return &Client{
		verifyURL: fmt.Sprintf("http://%s:%d/api/auth/verify", host, port),
		http:      &http.Client{Timeout: verifyTimeout},
		log:       log,
	}
}

func failure(code int32, msg string) VerifyResult {
	return VerifyResult{ErrorCode: code, ErrorMessage: msg}
}

// Verify posts the ticket and classifies every failure stage into a
// distinct code so operators can tell DNS trouble from a bad ticket.
func (c *Client) Verify(ctx context.Context, ticket string) VerifyResult {
	body, err := json.Marshal(map[string]string{"SessionTicket": ticket})
	if err != nil {
		return failure(CodeOther, "encode request: "+err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, bytes.NewReader(body))
	if err != nil {
		return failure(CodeOther, "build request: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		code := classifyTransport(err)
		c.log.Warn("auth verify transport error", zap.Int32("code", code), zap.Error(err))
		return failure(code, err.Error())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(CodeRead, "read response: "+err.Error())
	}

	var wire verifyWire
	if jsonErr := json.Unmarshal(data, &wire); jsonErr != nil {
		if resp.StatusCode != http.StatusOK {
			return failure(int32(resp.StatusCode), fmt.Sprintf("auth service returned HTTP %d", resp.StatusCode))
		}
		return failure(CodeParse, "parse response: "+jsonErr.Error())
	}

	if resp.StatusCode != http.StatusOK {
		// Rejections arrive as non-200 with a structured body; surface
		// the service's own code when it sent one.
		code := wire.ErrorCode
		msg := wire.ErrorMessage
		if code == 0 {
			code = int32(resp.StatusCode)
		}
		if msg == "" {
			msg = fmt.Sprintf("auth service returned HTTP %d", resp.StatusCode)
		}
		return failure(code, msg)
	}

	if wire.Success == nil {
		return failure(CodeBadResponse, "response missing success field")
	}
	if !*wire.Success {
		code := wire.ErrorCode
		if code == 0 {
			code = CodeOther
		}
		return failure(code, wire.ErrorMessage)
	}
	if wire.PlayerInfo == nil {
		return failure(CodeBadResponse, "response missing playerInfo")
	}
	return VerifyResult{Success: true, Player: *wire.PlayerInfo}
}

// VerifyAsync runs Verify on its own goroutine and hands the result to
// cb. The session write path is already thread-safe, so the callback
// may touch the session directly.
func (c *Client) VerifyAsync(ticket string, cb func(VerifyResult)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
		defer cancel()
		cb(c.Verify(ctx, ticket))
	}()
}

func classifyTransport(err error) int32 {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CodeResolve
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return CodeConnect
		case "write":
			return CodeWrite
		case "read":
			return CodeRead
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeRead
	}
	return CodeOther
}
