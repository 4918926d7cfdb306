package login

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/credentials"
	"go.uber.org/zap"
)

// State enumerates the positions of a login flow.
type State string

const (
	StateAwaitingCredentials State = "awaiting_credentials"
	StateAwaitingTOTP        State = "awaiting_totp"
	StateAwaitingSyncToken   State = "awaiting_sync_token"
	StateAuthenticated       State = "authenticated"
)

var (
	// ErrAccessDenied is the single rejection surfaced for wrong credentials, codes or tokens.
	ErrAccessDenied = errors.New("login: access denied")
	// ErrInvalidTransition indicates the submission does not apply to the flow's state.
	ErrInvalidTransition = errors.New("login: invalid transition")

	errMissingCredentialStore = errors.New("login: credential store is required")
	errMissingCodeValidator   = errors.New("login: code validator is required")
	errMissingTokenDecoder    = errors.New("login: token decoder is required")
)

// Flow is one login attempt. Flows are values; transitions return the next flow.
type Flow struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CredentialStore is the subset of the credential store the machine depends on.
type CredentialStore interface {
	Current() credentials.Credentials
	Verify(username, password string) (credentials.Credentials, bool)
	Replace(next credentials.Credentials) error
}

// CodeValidator validates one-time codes.
type CodeValidator interface {
	Validate(secret, code string, at time.Time) (bool, error)
}

// TokenDecoder turns a pasted sync token into a credential record.
type TokenDecoder func(token string) (credentials.Credentials, error)

// MachineConfig describes the machine's collaborators.
type MachineConfig struct {
	Credentials CredentialStore
	Codes       CodeValidator
	DecodeToken TokenDecoder
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Machine drives the credentials -> optional TOTP flow and the sync-token import flow.
type Machine struct {
	credentials CredentialStore
	codes       CodeValidator
	decodeToken TokenDecoder
	clock       func() time.Time
	logger      *zap.Logger
}

// NewMachine validates the configuration and returns a Machine.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	if cfg.Credentials == nil {
		return nil, errMissingCredentialStore
	}
	if cfg.Codes == nil {
		return nil, errMissingCodeValidator
	}
	if cfg.DecodeToken == nil {
		return nil, errMissingTokenDecoder
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		credentials: cfg.Credentials,
		codes:       cfg.Codes,
		decodeToken: cfg.DecodeToken,
		clock:       clock,
		logger:      logger,
	}, nil
}

// NewFlow returns a flow awaiting credentials.
func (m *Machine) NewFlow(id string) Flow {
	return Flow{ID: id, State: StateAwaitingCredentials, CreatedAt: m.clock().UTC()}
}

// SubmitCredentials moves an awaiting_credentials flow to awaiting_totp when two-factor is
// enabled, or straight to authenticated otherwise. On rejection the flow is returned unchanged.
func (m *Machine) SubmitCredentials(flow Flow, username, password string) (Flow, error) {
	if flow.State != StateAwaitingCredentials {
		return flow, fmt.Errorf("%w: credentials not expected in %s", ErrInvalidTransition, flow.State)
	}
	record, ok := m.credentials.Verify(username, password)
	if !ok {
		m.logger.Info("login rejected", zap.String("flow_id", flow.ID), zap.String("step", "credentials"))
		return flow, ErrAccessDenied
	}

	next := flow
	next.Username = record.Username
	if record.TwoFactorEnabled() {
		next.State = StateAwaitingTOTP
		return next, nil
	}
	next.State = StateAuthenticated
	return next, nil
}

// SubmitCode completes an awaiting_totp flow when code matches the stored secret.
func (m *Machine) SubmitCode(flow Flow, code string) (Flow, error) {
	if flow.State != StateAwaitingTOTP {
		return flow, fmt.Errorf("%w: code not expected in %s", ErrInvalidTransition, flow.State)
	}
	record := m.credentials.Current()
	if !record.TwoFactorEnabled() || !credentials.UsernameMatches(record.Username, flow.Username) {
		return flow, ErrAccessDenied
	}
	ok, err := m.codes.Validate(*record.TwoFactorSecret, code, m.clock())
	if err != nil {
		m.logger.Error("stored two-factor secret unusable", zap.Error(err))
		return flow, ErrAccessDenied
	}
	if !ok {
		m.logger.Info("login rejected", zap.String("flow_id", flow.ID), zap.String("step", "totp"))
		return flow, ErrAccessDenied
	}
	next := flow
	next.State = StateAuthenticated
	return next, nil
}

// BeginSyncTokenLogin switches a fresh flow to the sync-token path.
func (m *Machine) BeginSyncTokenLogin(flow Flow) (Flow, error) {
	if flow.State != StateAwaitingCredentials {
		return flow, fmt.Errorf("%w: sync token login must start from %s", ErrInvalidTransition, StateAwaitingCredentials)
	}
	next := flow
	next.State = StateAwaitingSyncToken
	return next, nil
}

// SubmitSyncToken decodes token and, on success, overwrites the credential store with the
// decoded record before authenticating.
func (m *Machine) SubmitSyncToken(flow Flow, token string) (Flow, error) {
	if flow.State != StateAwaitingSyncToken {
		return flow, fmt.Errorf("%w: sync token not expected in %s", ErrInvalidTransition, flow.State)
	}
	record, err := m.decodeToken(token)
	if err != nil {
		m.logger.Info("login rejected", zap.String("flow_id", flow.ID), zap.String("step", "sync_token"), zap.Error(err))
		return flow, ErrAccessDenied
	}
	if err := m.credentials.Replace(record); err != nil {
		m.logger.Error("sync token import failed", zap.Error(err))
		return flow, ErrAccessDenied
	}
	next := flow
	next.Username = record.Username
	next.State = StateAuthenticated
	m.logger.Info("credentials imported from sync token", zap.String("username", record.Username))
	return next, nil
}
