// Package login implements the interactive phone, code and password exchange
// that signs the fetch client into Telegram.
package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

var (
	// ErrPasswordRequired is returned by Authenticator.SignIn when the account
	// has two-step verification enabled.
	ErrPasswordRequired = errors.New("two-step password required")
	// ErrSessionActive is returned when the user already has a login in progress.
	ErrSessionActive = errors.New("login already in progress")
	// ErrNoSession is returned when stepping a user without a login.
	ErrNoSession = errors.New("no login in progress")
)

// Authenticator is the external service handle a login drives.
type Authenticator interface {
	SendCode(ctx context.Context, phone string) (codeHash string, err error)
	SignIn(ctx context.Context, phone, codeHash, code string) error
	Password(ctx context.Context, password string) error
	Close() error
}

// Dialer opens a fresh Authenticator.
type Dialer func(ctx context.Context) (Authenticator, error)

// Stage is one of PhoneStage, CodeStage or PasswordStage.
type Stage interface {
	Name() string
	stage()
}

// PhoneStage waits for a phone number in international format.
type PhoneStage struct{}

// CodeStage waits for the verification code sent to Phone.
type CodeStage struct {
	Phone    string
	CodeHash string
}

// PasswordStage waits for the two-step verification password.
type PasswordStage struct {
	Phone string
}

func (PhoneStage) Name() string    { return "phone" }
func (CodeStage) Name() string     { return "code" }
func (PasswordStage) Name() string { return "password" }

func (PhoneStage) stage()    {}
func (CodeStage) stage()     {}
func (PasswordStage) stage() {}

// Outcome tells whether a login continues or has ended.
type Outcome int

const (
	Pending Outcome = iota
	Done
	Cancelled
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Reply is the user-facing result of a transition.
type Reply struct {
	Text    string
	Outcome Outcome
}

// Session is one user's login in progress.
type Session struct {
	UserID int64
	Stage  Stage
	Auth   Authenticator
}

// Manager owns all login sessions. At most one session exists per user.
type Manager struct {
	Dial   Dialer
	Logger *slog.Logger

	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewManager returns a manager that opens service handles with dial.
func NewManager(dial Dialer, logger *slog.Logger) *Manager {
	return &Manager{Dial: dial, Logger: logger, sessions: make(map[int64]*Session)}
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

// Start creates a session in the phone stage. An existing session is left untouched.
func (m *Manager) Start(userID int64) (Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = make(map[int64]*Session)
	}
	if _, ok := m.sessions[userID]; ok {
		return Reply{Text: MsgAlreadyActive, Outcome: Pending}, ErrSessionActive
	}
	m.sessions[userID] = &Session{UserID: userID, Stage: PhoneStage{}}
	m.logger().Info("login_started", slog.Int64("user_id", userID))
	return Reply{Text: MsgAskPhone, Outcome: Pending}, nil
}

// Stage returns the user's current stage.
func (m *Manager) Stage(userID int64) (Stage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, false
	}
	return s.Stage, true
}

// Active reports whether the user has a login in progress.
func (m *Manager) Active(userID int64) bool {
	_, ok := m.Stage(userID)
	return ok
}

// Cancel ends the user's login.
func (m *Manager) Cancel(userID int64) Reply {
	m.end(userID, Cancelled)
	return Reply{Text: MsgCancelled, Outcome: Cancelled}
}

// Expire ends the user's login after inactivity.
func (m *Manager) Expire(userID int64) Reply {
	m.end(userID, Failed)
	return Reply{Text: MsgTimeout, Outcome: Failed}
}

// Step applies one input to the user's login.
func (m *Manager) Step(ctx context.Context, userID int64, input string) (Reply, error) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	var (
		current Stage
		auth    Authenticator
	)
	if ok {
		current, auth = s.Stage, s.Auth
	}
	m.mu.Unlock()
	if !ok {
		return Reply{}, ErrNoSession
	}

	input = strings.TrimSpace(input)
	logger := m.logger().With(slog.Int64("user_id", userID), slog.String("stage", current.Name()))

	switch st := current.(type) {
	case PhoneStage:
		if !strings.HasPrefix(input, "+") {
			return Reply{Text: MsgBadPhone, Outcome: Pending}, nil
		}
		if auth == nil {
			if m.Dial == nil {
				return m.fail(userID, logger, errors.New("no dialer configured"), MsgSendCodeFailed), nil
			}
			dialed, err := m.Dial(ctx)
			if err != nil {
				return m.fail(userID, logger, err, MsgSendCodeFailed), nil
			}
			auth = dialed
			if !m.update(userID, func(s *Session) { s.Auth = auth }) {
				_ = auth.Close()
				return Reply{Text: MsgCancelled, Outcome: Cancelled}, nil
			}
		}
		hash, err := auth.SendCode(ctx, input)
		if err != nil {
			return m.fail(userID, logger, err, MsgSendCodeFailed), nil
		}
		m.update(userID, func(s *Session) { s.Stage = CodeStage{Phone: input, CodeHash: hash} })
		logger.Info("login_code_sent")
		return Reply{Text: MsgAskCode, Outcome: Pending}, nil

	case CodeStage:
		err := auth.SignIn(ctx, st.Phone, st.CodeHash, input)
		if errors.Is(err, ErrPasswordRequired) {
			m.update(userID, func(s *Session) { s.Stage = PasswordStage{Phone: st.Phone} })
			logger.Info("login_password_required")
			return Reply{Text: MsgAskPassword, Outcome: Pending}, nil
		}
		if err != nil {
			return m.fail(userID, logger, err, MsgSignInFailed), nil
		}
		m.end(userID, Done)
		return Reply{Text: MsgDone, Outcome: Done}, nil

	case PasswordStage:
		if err := auth.Password(ctx, input); err != nil {
			return m.fail(userID, logger, err, MsgPasswordFailed), nil
		}
		m.end(userID, Done)
		return Reply{Text: MsgDone, Outcome: Done}, nil

	default:
		return m.fail(userID, logger, fmt.Errorf("unexpected stage %T", st), MsgSignInFailed), nil
	}
}

func (m *Manager) fail(userID int64, logger *slog.Logger, err error, text string) Reply {
	logger.Warn("login_failed", slog.String("error", err.Error()))
	m.end(userID, Failed)
	return Reply{Text: text, Outcome: Failed}
}

func (m *Manager) update(userID int64, fn func(*Session)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if ok {
		fn(s)
	}
	return ok
}

// end removes the session and releases its service handle.
func (m *Manager) end(userID int64, outcome Outcome) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if !ok {
		return
	}
	if s.Auth != nil {
		if err := s.Auth.Close(); err != nil {
			m.logger().Warn("login_close_failed", slog.Int64("user_id", userID), slog.String("error", err.Error()))
		}
	}
	m.logger().Info("login_ended", slog.Int64("user_id", userID), slog.String("outcome", outcome.String()))
}
