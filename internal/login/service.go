package login

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultFlowTTL = 5 * time.Minute

var (
	errMissingMachine   = errors.New("login: machine is required")
	errMissingFlowStore = errors.New("login: flow store is required")
)

// ServiceConfig wires the machine to a flow store.
type ServiceConfig struct {
	Machine *Machine
	Flows   FlowStore
	FlowTTL time.Duration
	NewID   func() (string, error)
	Logger  *zap.Logger
}

// Service runs login flows that span several HTTP requests.
type Service struct {
	machine *Machine
	flows   FlowStore
	ttl     time.Duration
	newID   func() (string, error)
	logger  *zap.Logger
}

// NewService validates cfg and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Machine == nil {
		return nil, errMissingMachine
	}
	if cfg.Flows == nil {
		return nil, errMissingFlowStore
	}
	ttl := cfg.FlowTTL
	if ttl <= 0 {
		ttl = defaultFlowTTL
	}
	newID := cfg.NewID
	if newID == nil {
		newID = newFlowID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{machine: cfg.Machine, flows: cfg.Flows, ttl: ttl, newID: newID, logger: logger}, nil
}

// StartWithCredentials opens a flow and submits username/password. Flows left awaiting a
// code are stored under their id until FlowTTL elapses.
func (s *Service) StartWithCredentials(ctx context.Context, username, password string) (Flow, error) {
	flow, err := s.open()
	if err != nil {
		return Flow{}, err
	}
	next, err := s.machine.SubmitCredentials(flow, username, password)
	if err != nil {
		return next, err
	}
	if next.State == StateAwaitingTOTP {
		if err := s.flows.Save(ctx, next, s.ttl); err != nil {
			s.logger.Error("failed to persist login flow", zap.String("flow_id", next.ID), zap.Error(err))
			return flow, err
		}
	}
	return next, nil
}

// ContinueWithCode submits a one-time code to a stored flow. A rejected code leaves the flow
// in place so the admin can retry; success consumes it.
func (s *Service) ContinueWithCode(ctx context.Context, flowID, code string) (Flow, error) {
	flowID = strings.TrimSpace(flowID)
	if flowID == "" {
		return Flow{}, ErrFlowNotFound
	}
	flow, err := s.flows.Load(ctx, flowID)
	if err != nil {
		return Flow{}, err
	}
	next, err := s.machine.SubmitCode(flow, code)
	if err != nil {
		return next, err
	}
	if err := s.flows.Delete(ctx, flowID); err != nil {
		s.logger.Warn("failed to discard completed login flow", zap.String("flow_id", flowID), zap.Error(err))
	}
	return next, nil
}

// LoginWithSyncToken runs the sync-token path in a single step.
func (s *Service) LoginWithSyncToken(_ context.Context, token string) (Flow, error) {
	flow, err := s.open()
	if err != nil {
		return Flow{}, err
	}
	flow, err = s.machine.BeginSyncTokenLogin(flow)
	if err != nil {
		return flow, err
	}
	return s.machine.SubmitSyncToken(flow, token)
}

func (s *Service) open() (Flow, error) {
	id, err := s.newID()
	if err != nil {
		s.logger.Error("failed to allocate login flow id", zap.Error(err))
		return Flow{}, err
	}
	return s.machine.NewFlow(id), nil
}

func newFlowID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
