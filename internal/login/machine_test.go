package login

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/credentials"
	"github.com/MarcoPoloResearchLab/folio/internal/synctoken"
	"github.com/MarcoPoloResearchLab/folio/internal/totp"
)

const testSecret = "JBSWY3DPEHPK3PXP"

type stubCredentialStore struct {
	current    credentials.Credentials
	replaced   []credentials.Credentials
	replaceErr error
}

func (s *stubCredentialStore) Current() credentials.Credentials {
	return s.current
}

func (s *stubCredentialStore) Verify(username, password string) (credentials.Credentials, bool) {
	if credentials.UsernameMatches(s.current.Username, username) && password == s.current.Password {
		return s.current, true
	}
	return credentials.Credentials{}, false
}

func (s *stubCredentialStore) Replace(next credentials.Credentials) error {
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.replaced = append(s.replaced, next)
	s.current = next
	return nil
}

func newTestMachine(t *testing.T, store *stubCredentialStore, now time.Time) *Machine {
	t.Helper()
	machine, err := NewMachine(MachineConfig{
		Credentials: store,
		Codes:       totp.NewEngine(totp.Config{}),
		DecodeToken: synctoken.Decode,
		Clock:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	return machine
}

func TestSubmitCredentialsWithoutTwoFactorAuthenticates(t *testing.T) {
	store := &stubCredentialStore{current: credentials.Credentials{Username: "admin", Password: "Secret1"}}
	machine := newTestMachine(t, store, time.Unix(1_700_000_000, 0))

	flow, err := machine.SubmitCredentials(machine.NewFlow("f1"), "ADMIN ", "Secret1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.State != StateAuthenticated {
		t.Fatalf("expected authenticated, got %s", flow.State)
	}
	if flow.Username != "admin" {
		t.Fatalf("expected stored username, got %q", flow.Username)
	}
}

func TestSubmitCredentialsRejectsWrongPasswordAndKeepsState(t *testing.T) {
	store := &stubCredentialStore{current: credentials.Credentials{Username: "admin", Password: "Secret1"}}
	machine := newTestMachine(t, store, time.Unix(1_700_000_000, 0))

	flow, err := machine.SubmitCredentials(machine.NewFlow("f1"), "admin", "secret1")
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	if flow.State != StateAwaitingCredentials {
		t.Fatalf("rejected flow must stay awaiting credentials, got %s", flow.State)
	}
}

func TestTwoFactorFlowRequiresValidCode(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	secret := testSecret
	store := &stubCredentialStore{current: credentials.Credentials{Username: "admin", Password: "Secret1", TwoFactorSecret: &secret}}
	machine := newTestMachine(t, store, now)

	flow, err := machine.SubmitCredentials(machine.NewFlow("f1"), "admin", "Secret1")
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if flow.State != StateAwaitingTOTP {
		t.Fatalf("expected awaiting_totp, got %s", flow.State)
	}

	code, _ := totp.NewEngine(totp.Config{}).CurrentCode(secret, now)
	wrong := "000000"
	if code == wrong {
		wrong = "999999"
	}
	rejected, err := machine.SubmitCode(flow, wrong)
	if !errors.Is(err, ErrAccessDenied) || rejected.State != StateAwaitingTOTP {
		t.Fatalf("expected rejection in awaiting_totp, got %s / %v", rejected.State, err)
	}

	done, err := machine.SubmitCode(flow, code)
	if err != nil {
		t.Fatalf("valid code rejected: %v", err)
	}
	if done.State != StateAuthenticated {
		t.Fatalf("expected authenticated, got %s", done.State)
	}
}

func TestSubmissionsOutOfOrderAreInvalidTransitions(t *testing.T) {
	store := &stubCredentialStore{current: credentials.Credentials{Username: "admin", Password: "Secret1"}}
	machine := newTestMachine(t, store, time.Unix(1_700_000_000, 0))
	fresh := machine.NewFlow("f1")

	if _, err := machine.SubmitCode(fresh, "123456"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for code, got %v", err)
	}
	if _, err := machine.SubmitSyncToken(fresh, "token"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for token, got %v", err)
	}
	done := fresh
	done.State = StateAuthenticated
	if _, err := machine.SubmitCredentials(done, "admin", "Secret1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition after authentication, got %v", err)
	}
}

func TestSyncTokenImportReplacesCredentials(t *testing.T) {
	store := &stubCredentialStore{current: credentials.Credentials{Username: "admin", Password: "Secret1"}}
	machine := newTestMachine(t, store, time.Unix(1_700_000_000, 0))

	imported := credentials.Credentials{Username: "owner", Password: "Other2"}
	token, err := synctoken.Encode(imported)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	flow, err := machine.BeginSyncTokenLogin(machine.NewFlow("f1"))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	flow, err = machine.SubmitSyncToken(flow, token)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if flow.State != StateAuthenticated || flow.Username != "owner" {
		t.Fatalf("unexpected flow %#v", flow)
	}
	if len(store.replaced) != 1 || store.replaced[0].Username != "owner" {
		t.Fatalf("expected credentials to be replaced, got %#v", store.replaced)
	}
}

func TestMalformedSyncTokenLeavesCredentialsUntouched(t *testing.T) {
	store := &stubCredentialStore{current: credentials.Credentials{Username: "admin", Password: "Secret1"}}
	machine := newTestMachine(t, store, time.Unix(1_700_000_000, 0))

	flow, _ := machine.BeginSyncTokenLogin(machine.NewFlow("f1"))
	flow, err := machine.SubmitSyncToken(flow, "not a token")
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	if flow.State != StateAwaitingSyncToken {
		t.Fatalf("expected awaiting_sync_token, got %s", flow.State)
	}
	if len(store.replaced) != 0 {
		t.Fatalf("credentials must not change on a malformed token")
	}
}

func TestServiceStoresFlowUntilCodeAccepted(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	secret := testSecret
	store := &stubCredentialStore{current: credentials.Credentials{Username: "admin", Password: "Secret1", TwoFactorSecret: &secret}}
	machine := newTestMachine(t, store, now)
	flows := NewMemoryFlowStore(func() time.Time { return now })
	service, err := NewService(ServiceConfig{
		Machine: machine,
		Flows:   flows,
		NewID:   func() (string, error) { return "flow-1", nil },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	flow, err := service.StartWithCredentials(ctx, "admin", "Secret1")
	if err != nil || flow.State != StateAwaitingTOTP {
		t.Fatalf("expected awaiting_totp, got %s / %v", flow.State, err)
	}

	code, _ := totp.NewEngine(totp.Config{}).CurrentCode(secret, now)
	wrong := "111111"
	if code == wrong {
		wrong = "222222"
	}
	if _, err := service.ContinueWithCode(ctx, "flow-1", wrong); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	done, err := service.ContinueWithCode(ctx, "flow-1", code)
	if err != nil || done.State != StateAuthenticated {
		t.Fatalf("expected authenticated, got %s / %v", done.State, err)
	}
	if _, err := service.ContinueWithCode(ctx, "flow-1", code); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("completed flow must be consumed, got %v", err)
	}
}

func TestMemoryFlowStoreExpiresFlows(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := NewMemoryFlowStore(func() time.Time { return now })
	ctx := context.Background()

	if err := store.Save(ctx, Flow{ID: "a", State: StateAwaitingTOTP}, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Load(ctx, "a"); err != nil {
		t.Fatalf("load: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := store.Load(ctx, "a"); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("expected expired flow, got %v", err)
	}
}

func TestThrottleLimitsPerKeyWithoutLockout(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	throttle := NewThrottle(60, 2, func() time.Time { return now })

	if !throttle.Allow("1.2.3.4") || !throttle.Allow("1.2.3.4") {
		t.Fatalf("expected burst to be allowed")
	}
	if throttle.Allow("1.2.3.4") {
		t.Fatalf("expected third immediate attempt to be throttled")
	}
	if !throttle.Allow("5.6.7.8") {
		t.Fatalf("other clients must not be affected")
	}
	now = now.Add(time.Second)
	if !throttle.Allow("1.2.3.4") {
		t.Fatalf("expected token to refill after one second")
	}
}
