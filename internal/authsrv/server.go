// Package authsrv is the authentication HTTP service: account
// registration, login with bcrypt credentials, session-ticket issue and
// verification, and the character list. Game servers talk to it through
// the auth client package.
package authsrv

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/gommo/server/internal/persist"
)

var (
	errUsernameLength = errors.New("username must be 3-24 characters")
	errUsernameChars  = errors.New("username contains invalid characters")
)

// Verify rejection codes. Positive, so they stay clear of the verify
// client's negative transport-failure codes.
const (
	codeInvalidTicket int32 = 1
	codePlayerMissing int32 = 2
)

const (
	minUsernameRunes = 3
	maxUsernameRunes = 24
	minPasswordBytes = 6
	// bcrypt ignores everything past 72 bytes; refuse instead.
	maxPasswordBytes = 72
)

// Server wires the stores and the ticket table into the REST surface.
type Server struct {
	users   UserStore
	players PlayerStore
	tickets *TicketStore
	log     *zap.Logger
}

func NewServer(users UserStore, players PlayerStore, tickets *TicketStore, log *zap.Logger) *Server {
	return &Server{users: users, players: players, tickets: tickets, log: log}
}

// Handler returns the route table. Split from Run so tests can mount it
// on httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/verify", s.handleVerify)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/characters", s.handleCharacters)
	return mux
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	s.log.Info("auth service listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}

type credentialsReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ticketReq struct {
	SessionTicket string `json:"sessionTicket"`
}

type playerInfo struct {
	PlayerID uint64  `json:"playerId"`
	Name     string  `json:"name"`
	PosX     float32 `json:"posX"`
	PosY     float32 `json:"posY"`
	HP       int32   `json:"hp"`
	MaxHP    int32   `json:"maxHp"`
}

type registerResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type loginResp struct {
	Success       bool        `json:"success"`
	SessionTicket string      `json:"sessionTicket,omitempty"`
	PlayerInfo    *playerInfo `json:"playerInfo,omitempty"`
	Message       string      `json:"message,omitempty"`
}

type verifyResp struct {
	Success      bool        `json:"success"`
	PlayerInfo   *playerInfo `json:"playerInfo,omitempty"`
	ErrorCode    int32       `json:"errorCode,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

type charactersResp struct {
	Success    bool         `json:"success"`
	Characters []playerInfo `json:"characters"`
}

type messageResp struct {
	Message string `json:"message"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, registerResp{Message: "malformed request body"})
		return
	}

	username, err := normalizeUsername(req.Username)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, registerResp{Message: err.Error()})
		return
	}
	if n := len(req.Password); n < minPasswordBytes || n > maxPasswordBytes {
		writeJSON(w, http.StatusBadRequest, registerResp{Message: "password must be 6-72 bytes"})
		return
	}

	existing, err := s.users.GetByUsername(r.Context(), username)
	if err != nil {
		s.internalError(w, "load user", err)
		return
	}
	if existing != nil {
		writeJSON(w, http.StatusConflict, registerResp{Message: "username already exists"})
		return
	}

	user, err := s.users.Create(r.Context(), username, req.Password)
	if err != nil {
		s.internalError(w, "create user", err)
		return
	}
	// The initial character is created together with the account and
	// named after it.
	if _, err := s.players.Create(r.Context(), user.ID, username); err != nil {
		s.internalError(w, "create player", err)
		return
	}

	s.log.Info("user registered", zap.String("username", username), zap.Int64("user_id", user.ID))
	writeJSON(w, http.StatusOK, registerResp{Success: true, Message: "user registered successfully"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, loginResp{Message: "malformed request body"})
		return
	}

	username, err := normalizeUsername(req.Username)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, loginResp{Message: err.Error()})
		return
	}

	user, err := s.users.GetByUsername(r.Context(), username)
	if err != nil {
		s.internalError(w, "load user", err)
		return
	}
	if user == nil || !s.users.ValidatePassword(user.PasswordHash, req.Password) {
		writeJSON(w, http.StatusUnauthorized, loginResp{Message: "invalid username or password"})
		return
	}

	player, err := s.players.GetByUserID(r.Context(), user.ID)
	if err != nil {
		s.internalError(w, "load player", err)
		return
	}
	if player == nil {
		// Accounts from before the auto-create era may lack a player row.
		player, err = s.players.Create(r.Context(), user.ID, username)
		if err != nil {
			s.internalError(w, "create player", err)
			return
		}
	}

	if err := s.users.TouchLastLogin(r.Context(), user.ID); err != nil {
		s.log.Warn("update last login failed", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	ticket := s.tickets.Issue(user.ID)
	s.log.Info("user logged in",
		zap.String("username", username),
		zap.Int64("user_id", user.ID),
		zap.Int64("player_id", player.ID))

	writeJSON(w, http.StatusOK, loginResp{
		Success:       true,
		SessionTicket: ticket,
		PlayerInfo:    toPlayerInfo(player),
		Message:       "login successful",
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req ticketReq
	if err := decodeJSON(w, r, &req); err != nil || req.SessionTicket == "" {
		writeJSON(w, http.StatusBadRequest, verifyResp{
			ErrorCode:    codeInvalidTicket,
			ErrorMessage: "session ticket is required",
		})
		return
	}

	userID, ok := s.tickets.Lookup(req.SessionTicket)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, verifyResp{
			ErrorCode:    codeInvalidTicket,
			ErrorMessage: "invalid or expired session ticket",
		})
		return
	}

	player, err := s.players.GetByUserID(r.Context(), userID)
	if err != nil {
		s.internalError(w, "load player", err)
		return
	}
	if player == nil {
		writeJSON(w, http.StatusNotFound, verifyResp{
			ErrorCode:    codePlayerMissing,
			ErrorMessage: "player not found for this user",
		})
		return
	}

	writeJSON(w, http.StatusOK, verifyResp{Success: true, PlayerInfo: toPlayerInfo(player)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req ticketReq
	if err := decodeJSON(w, r, &req); err != nil || req.SessionTicket == "" {
		writeJSON(w, http.StatusBadRequest, messageResp{Message: "session ticket is required"})
		return
	}

	if !s.tickets.Revoke(req.SessionTicket) {
		writeJSON(w, http.StatusBadRequest, messageResp{Message: "failed to logout or session not found"})
		return
	}
	writeJSON(w, http.StatusOK, messageResp{Message: "logged out successfully"})
}

func (s *Server) handleCharacters(w http.ResponseWriter, r *http.Request) {
	ticket := r.Header.Get("sessionTicket")
	if ticket == "" {
		writeJSON(w, http.StatusBadRequest, verifyResp{
			ErrorCode:    codeInvalidTicket,
			ErrorMessage: "session ticket is required",
		})
		return
	}

	userID, ok := s.tickets.Lookup(ticket)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, verifyResp{
			ErrorCode:    codeInvalidTicket,
			ErrorMessage: "invalid or expired session ticket",
		})
		return
	}

	player, err := s.players.GetByUserID(r.Context(), userID)
	if err != nil {
		s.internalError(w, "load player", err)
		return
	}

	// One character per account today; the list shape leaves room for
	// more.
	resp := charactersResp{Success: true, Characters: []playerInfo{}}
	if player != nil {
		resp.Characters = append(resp.Characters, *toPlayerInfo(player))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error("auth request failed", zap.String("op", op), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, messageResp{Message: "internal error"})
}

func toPlayerInfo(p *persist.PlayerRow) *playerInfo {
	return &playerInfo{
		PlayerID: uint64(p.ID),
		Name:     p.Name,
		PosX:     p.X,
		PosY:     p.Y,
		HP:       p.HP,
		MaxHP:    p.MaxHP,
	}
}

// normalizeUsername trims, NFC-normalizes, and bounds the name. Control
// characters and spaces inside the name are refused.
func normalizeUsername(raw string) (string, error) {
	name := norm.NFC.String(strings.TrimSpace(raw))
	n := utf8.RuneCountInString(name)
	if n < minUsernameRunes || n > maxUsernameRunes {
		return "", errUsernameLength
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f || r == ' ' {
			return "", errUsernameChars
		}
	}
	return name, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
