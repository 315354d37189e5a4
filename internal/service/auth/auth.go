// Package auth is the typed client for the host's auth command family.
package auth

import (
	"context"
	"log/slog"

	"github.com/webitel/im-bridge/internal/dispatch"
	"github.com/webitel/im-bridge/internal/domain/bridge"
)

// Command catalog handled by the host.
const (
	CmdLogin  = "auth_login"
	CmdLogout = "auth_logout"
)

// Auther is the auth surface exposed to the UI layer.
type Auther interface {
	Login(ctx context.Context, email, password string) (*Session, error)
	Logout(ctx context.Context) error
}

// Interface guard
var _ Auther = (*Service)(nil)

// LoginRequest is the auth_login argument payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// User is the host's view of the authenticated identity.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Session is the auth_login result: an opaque token plus its expiry.
type Session struct {
	Token     string `json:"token"`
	User      User   `json:"user"`
	ExpiresAt int64  `json:"expires_at"`
}

type Service struct {
	dispatcher dispatch.Dispatcher
	logger     *slog.Logger
}

func NewService(d dispatch.Dispatcher, logger *slog.Logger) *Service {
	return &Service{
		dispatcher: d,
		logger:     logger.With(slog.String("component", "auth")),
	}
}

// Login exchanges credentials for a session. An UNAUTHORIZED result is
// terminal for the call and is never retried by the dispatcher; callers
// route it to the re-login flow.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	session, err := dispatch.Call[Session](ctx, s.dispatcher, CmdLogin, LoginRequest{
		Email:    email,
		Password: password,
	})
	if err != nil {
		if be, ok := bridge.AsError(err); ok && be.Code == bridge.CodeUnauthorized {
			s.logger.Info("credentials rejected", slog.String("email", email))
		}
		return nil, err
	}
	return &session, nil
}

// Logout invalidates the current session on the host side.
func (s *Service) Logout(ctx context.Context) error {
	return dispatch.Exec(ctx, s.dispatcher, CmdLogout, nil)
}
