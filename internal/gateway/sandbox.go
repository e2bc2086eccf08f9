package gateway

import (
	"context"
	"errors"
	"sync"
)

// Sandbox is an in-memory Gateway. It deduplicates by reference the way a
// real provider honours idempotency keys, and its outcomes can be scripted.
type Sandbox struct {
	mu sync.Mutex

	// ChargeOutcome is the status a new charge is created with. Defaults to pending.
	ChargeOutcome Status
	// ConfirmOutcome is the status a pending charge settles to. Defaults to succeeded.
	ConfirmOutcome Status
	// TransferOutcome defaults to succeeded.
	TransferOutcome Status

	failNext  int
	calls     int
	charges   map[string]*sandboxCharge
	transfers map[string]*sandboxTransfer
	order     []string
}

type sandboxCharge struct {
	req    ChargeRequest
	status Status
}

type sandboxTransfer struct {
	req    TransferRequest
	status Status
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		charges:   map[string]*sandboxCharge{},
		transfers: map[string]*sandboxTransfer{},
	}
}

// FailNext makes the next n calls fail with a transient error and no effect.
func (s *Sandbox) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

func (s *Sandbox) enter(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.calls++
	if s.charges == nil {
		s.charges = map[string]*sandboxCharge{}
		s.transfers = map[string]*sandboxTransfer{}
	}
	if s.failNext > 0 {
		s.failNext--
		return Transient(errors.New("sandbox: injected failure"))
	}
	return nil
}

func or(s, def Status) Status {
	if s == "" {
		return def
	}
	return s
}

func (s *Sandbox) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx); err != nil {
		return Result{}, err
	}
	if c, ok := s.charges[req.Reference]; ok {
		return Result{Reference: req.Reference, Status: c.status}, nil
	}
	c := &sandboxCharge{req: req, status: or(s.ChargeOutcome, StatusPending)}
	s.charges[req.Reference] = c
	s.order = append(s.order, req.Reference)
	return Result{Reference: req.Reference, Status: c.status}, nil
}

func (s *Sandbox) ConfirmCharge(ctx context.Context, reference string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx); err != nil {
		return Result{}, err
	}
	c, ok := s.charges[reference]
	if !ok {
		return Result{Reference: reference, Status: StatusFailed, Message: "unknown charge"}, nil
	}
	if c.status == StatusPending {
		c.status = or(s.ConfirmOutcome, StatusSucceeded)
	}
	return Result{Reference: reference, Status: c.status}, nil
}

func (s *Sandbox) Transfer(ctx context.Context, req TransferRequest) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx); err != nil {
		return Result{}, err
	}
	if t, ok := s.transfers[req.Reference]; ok && t.status != StatusFailed {
		return Result{Reference: req.Reference, Status: t.status}, nil
	}
	t := &sandboxTransfer{req: req, status: or(s.TransferOutcome, StatusSucceeded)}
	s.transfers[req.Reference] = t
	return Result{Reference: req.Reference, Status: t.status}, nil
}

// Charges returns the distinct charges created, in creation order.
func (s *Sandbox) Charges() []ChargeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChargeRequest, 0, len(s.order))
	for _, ref := range s.order {
		out = append(out, s.charges[ref].req)
	}
	return out
}

// Paid sums the successful transfers made to payee.
func (s *Sandbox) Paid(payee string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, t := range s.transfers {
		if t.req.Payee == payee && t.status == StatusSucceeded {
			total += t.req.Amount
		}
	}
	return total
}

// Calls counts every call made, including failed and repeated ones.
func (s *Sandbox) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
