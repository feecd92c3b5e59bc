package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// clientFor points a Client at an httptest server.
func clientFor(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	addr := strings.TrimPrefix(srv.URL, "http://")
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	var port int
	_, err = fmt.Sscanf(portStr, "%d", &port)
	require.NoError(t, err)
	return NewClient(host, port, zaptest.NewLogger(t))
}

func TestVerifySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/auth/verify", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "ticket-1", body["SessionTicket"])

		fmt.Fprint(w, `{"success":true,"playerInfo":{"playerId":42,"name":"Alice","posX":10.5,"posY":20,"hp":100,"maxHp":100}}`)
	}))
	defer srv.Close()

	res := clientFor(t, srv).Verify(context.Background(), "ticket-1")
	require.True(t, res.Success)
	require.Equal(t, uint64(42), res.Player.PlayerID)
	require.Equal(t, "Alice", res.Player.Name)
	require.Equal(t, float32(10.5), res.Player.PosX)
	require.Equal(t, int32(100), res.Player.MaxHP)
}

func TestVerifyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"success":false,"errorCode":401,"errorMessage":"invalid or expired ticket"}`)
	}))
	defer srv.Close()

	res := clientFor(t, srv).Verify(context.Background(), "bad")
	require.False(t, res.Success)
	require.Equal(t, int32(401), res.ErrorCode)
	require.Equal(t, "invalid or expired ticket", res.ErrorMessage)
}

func TestVerifyRejectedWithoutBodyUsesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	defer srv.Close()

	res := clientFor(t, srv).Verify(context.Background(), "bad")
	require.False(t, res.Success)
	require.Equal(t, int32(http.StatusTeapot), res.ErrorCode)
}

func TestVerifyMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":`)
	}))
	defer srv.Close()

	res := clientFor(t, srv).Verify(context.Background(), "t")
	require.False(t, res.Success)
	require.Equal(t, CodeParse, res.ErrorCode)
}

func TestVerifyMissingSuccessField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"playerInfo":{"playerId":1}}`)
	}))
	defer srv.Close()

	res := clientFor(t, srv).Verify(context.Background(), "t")
	require.False(t, res.Success)
	require.Equal(t, CodeBadResponse, res.ErrorCode)
}

func TestVerifyConnectRefused(t *testing.T) {
	// Grab a port that nothing listens on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	c := NewClient("127.0.0.1", port, zaptest.NewLogger(t))
	res := c.Verify(context.Background(), "t")
	require.False(t, res.Success)
	require.Equal(t, CodeConnect, res.ErrorCode)
}

func TestVerifyAsyncDeliversResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"playerInfo":{"playerId":7,"name":"Bob"}}`)
	}))
	defer srv.Close()

	got := make(chan VerifyResult, 1)
	clientFor(t, srv).VerifyAsync("t", func(res VerifyResult) { got <- res })

	select {
	case res := <-got:
		require.True(t, res.Success)
		require.Equal(t, uint64(7), res.Player.PlayerID)
	case <-time.After(5 * time.Second):
		t.Fatal("async verify never called back")
	}
}

func TestClassifyTransport(t *testing.T) {
	require.Equal(t, CodeResolve, classifyTransport(&net.DNSError{Err: "no such host"}))
	require.Equal(t, CodeConnect, classifyTransport(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	require.Equal(t, CodeWrite, classifyTransport(&net.OpError{Op: "write", Err: errors.New("pipe")}))
	require.Equal(t, CodeRead, classifyTransport(&net.OpError{Op: "read", Err: errors.New("reset")}))
	require.Equal(t, CodeOther, classifyTransport(errors.New("weird")))
}
