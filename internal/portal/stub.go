package portal

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Stub accepts every action without touching a portal. It backs dry runs
// and records the actions it was asked to perform.
type Stub struct {
	mu    sync.Mutex
	calls []string
}

// NewStub creates an always-succeeding driver.
func NewStub() *Stub {
	return &Stub{}
}

// Calls returns the actions performed so far, in order.
func (s *Stub) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Stub) record(action string, fields ...zap.Field) (Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, action)
	s.mu.Unlock()
	zap.L().Debug("stub portal: "+action, fields...)
	return Done(), nil
}

func (s *Stub) FillInitialFields(_ context.Context, f InitialFields) (Result, error) {
	return s.record("initial_fields", zap.String("identity_id", f.HeadIdentityID))
}

func (s *Stub) AdvanceToDetail(context.Context) (Result, error) {
	return s.record("advance_to_detail")
}

func (s *Stub) AddDependent(_ context.Context, d DependentEntry) (Result, error) {
	return s.record("add_dependent", zap.String("dependent", d.IdentityID), zap.String("code", d.Code))
}

func (s *Stub) AddPlan(_ context.Context, p PlanEntry) (Result, error) {
	return s.record("add_plan", zap.String("operator", p.OperatorID), zap.String("amount", p.HeadAmount))
}

func (s *Stub) AddDependentValue(_ context.Context, v DependentValueEntry) (Result, error) {
	return s.record("add_dependent_value", zap.String("dependent", v.DependentIdentityID), zap.String("amount", v.Amount))
}

func (s *Stub) Submit(context.Context) (Result, error) {
	return s.record("submit")
}

func (s *Stub) Sign(_ context.Context, method SignMethod) (Result, error) {
	return s.record("sign", zap.String("method", string(method)))
}

func (s *Stub) AwaitConfirmation(context.Context, time.Duration) (Result, error) {
	return s.record("confirmation")
}

func (s *Stub) AdvanceToNext(context.Context) (Result, error) {
	return s.record("advance_to_next")
}

func (s *Stub) Close() error { return nil }
