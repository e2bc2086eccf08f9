// Package escrow moves a project's escrow payment through its lifecycle and
// performs the matching payment gateway calls.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"studioflow/internal/apperr"
	"studioflow/internal/domain"
	"studioflow/internal/engine/statemachine"
	"studioflow/internal/gateway"
	"studioflow/internal/logging"
	"studioflow/internal/metrics"
)

const (
	defaultCallTimeout   = 10 * time.Second
	defaultRetryInterval = 200 * time.Millisecond
)

// Resolution is the admin's decision on a dispute.
type Resolution string

const (
	ResolveReinstate Resolution = "reinstate"
	ResolveRefund    Resolution = "refund"
)

func (r Resolution) Valid() bool {
	return r == ResolveReinstate || r == ResolveRefund
}

// Transition is one status change of the payment. From is empty when the
// record was created.
type Transition struct {
	From      domain.PaymentStatus `json:"from,omitempty"`
	To        domain.PaymentStatus `json:"to"`
	Reference string               `json:"reference,omitempty"`
	Amount    int64                `json:"amount,omitempty"`
}

// Ledger applies escrow transitions. It never persists anything; callers
// store the returned payment together with the rest of the project.
type Ledger struct {
	Gateway       gateway.Gateway
	CallTimeout   time.Duration
	Retries       int
	RetryInterval time.Duration
	Now           func() time.Time
	Log           *slog.Logger
}

func New(gw gateway.Gateway) *Ledger {
	return &Ledger{Gateway: gw, Retries: 1, Now: time.Now}
}

// Reference derives the idempotency reference of one logical gateway
// operation. The same inputs always yield the same reference.
func Reference(projectID, operation string, parts ...string) string {
	key := strings.Join(append([]string{projectID, operation}, parts...), "|")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func (l *Ledger) now() string {
	if l.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return l.Now().UTC().Format(time.RFC3339)
}

func (l *Ledger) log() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return logging.Get()
}

// Fund charges the client and holds the amount. A payment already past
// pending is returned unchanged without contacting the gateway.
func (l *Ledger) Fund(ctx context.Context, current *domain.EscrowPayment, project domain.Project, amount int64, currency string) (domain.EscrowPayment, []Transition, error) {
	if current != nil && current.Status != domain.PaymentPending {
		return *current, nil, nil
	}
	var trail []Transition
	var pay domain.EscrowPayment
	if current != nil {
		pay = *current
	} else {
		if amount <= 0 {
			return domain.EscrowPayment{}, nil, apperr.InvalidArgument("escrow amount must be positive")
		}
		if amount < project.MentorFee+project.StudentFee {
			return domain.EscrowPayment{}, nil, apperr.InvalidArgument("escrow amount %d does not cover mentor and student fees %d", amount, project.MentorFee+project.StudentFee)
		}
		currency = strings.ToUpper(strings.TrimSpace(currency))
		if len(currency) != 3 {
			return domain.EscrowPayment{}, nil, apperr.InvalidArgument("currency must be a three-letter ISO code")
		}
		ts := l.now()
		pay = domain.EscrowPayment{
			ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte("escrow|"+project.ID)).String(),
			ProjectID: project.ID,
			Amount:    amount,
			Currency:  currency,
			Status:    domain.PaymentPending,
			CreatedAt: ts,
			UpdatedAt: ts,
		}
		trail = append(trail, Transition{To: domain.PaymentPending, Amount: amount})
	}

	if pay.ChargeRef == "" {
		ref := Reference(project.ID, "charge", fmt.Sprint(pay.Amount), pay.Currency)
		res, err := l.call(ctx, "charge", func(ctx context.Context) (gateway.Result, error) {
			return l.Gateway.Charge(ctx, gateway.ChargeRequest{
				Reference: ref,
				Amount:    pay.Amount,
				Currency:  pay.Currency,
				Payer:     project.ClientID,
				ProjectID: project.ID,
			})
		})
		if err != nil {
			return domain.EscrowPayment{}, nil, err
		}
		if res.Status == gateway.StatusFailed {
			return domain.EscrowPayment{}, nil, declined("charge", res)
		}
		pay.ChargeRef = ref
		if res.Status == gateway.StatusSucceeded {
			return l.move(pay, domain.PaymentEscrowed), trailOf(trail, pay, domain.PaymentEscrowed, ref, pay.Amount), nil
		}
	}

	ref := pay.ChargeRef
	res, err := l.call(ctx, "confirm_charge", func(ctx context.Context) (gateway.Result, error) {
		return l.Gateway.ConfirmCharge(ctx, ref)
	})
	if err != nil {
		return domain.EscrowPayment{}, nil, err
	}
	switch res.Status {
	case gateway.StatusSucceeded:
		return l.move(pay, domain.PaymentEscrowed), trailOf(trail, pay, domain.PaymentEscrowed, ref, pay.Amount), nil
	case gateway.StatusPending:
		pay.UpdatedAt = l.now()
		return pay, trail, nil
	default:
		return domain.EscrowPayment{}, nil, declined("charge", res)
	}
}

// ReleaseToMentor pays the mentor fee once the project has passed mentor approval.
func (l *Ledger) ReleaseToMentor(ctx context.Context, current *domain.EscrowPayment, project domain.Project) (domain.EscrowPayment, []Transition, error) {
	if current == nil {
		return domain.EscrowPayment{}, nil, apperr.InvalidState("project %s has no escrow payment", project.ID)
	}
	switch current.Status {
	case domain.PaymentMentorReleased, domain.PaymentStudentReleased, domain.PaymentCompleted:
		return *current, nil, nil
	case domain.PaymentEscrowed:
	default:
		return *current, nil, apperr.InvalidState("escrow is %s, not escrowed", current.Status)
	}
	if !statemachine.Reached(project.Status, domain.StatusMentorApproved) {
		return *current, nil, apperr.InvalidState("project %s has not passed mentor approval", project.ID)
	}
	if project.MentorID == nil {
		return *current, nil, apperr.InvalidState("project %s has no mentor", project.ID)
	}
	ref := Reference(project.ID, "release_mentor")
	if err := l.transfer(ctx, "release_mentor", ref, project, project.MentorFee, current.Currency, *project.MentorID); err != nil {
		return *current, nil, err
	}
	pay := *current
	return l.move(pay, domain.PaymentMentorReleased), trailOf(nil, pay, domain.PaymentMentorReleased, ref, project.MentorFee), nil
}

// ReleaseToStudent pays the student fee once the client has approved the
// work, and completes the payment.
func (l *Ledger) ReleaseToStudent(ctx context.Context, current *domain.EscrowPayment, project domain.Project) (domain.EscrowPayment, []Transition, error) {
	if current == nil {
		return domain.EscrowPayment{}, nil, apperr.InvalidState("project %s has no escrow payment", project.ID)
	}
	pay := *current
	var trail []Transition
	switch pay.Status {
	case domain.PaymentCompleted:
		return pay, nil, nil
	case domain.PaymentStudentReleased:
	case domain.PaymentMentorReleased:
		if !statemachine.Reached(project.Status, domain.StatusCompleted) {
			return pay, nil, apperr.InvalidState("project %s has not been approved by the client", project.ID)
		}
		if project.StudentID == nil {
			return pay, nil, apperr.InvalidState("project %s has no student", project.ID)
		}
		ref := Reference(project.ID, "release_student")
		if err := l.transfer(ctx, "release_student", ref, project, project.StudentFee, pay.Currency, *project.StudentID); err != nil {
			return pay, nil, err
		}
		trail = trailOf(trail, pay, domain.PaymentStudentReleased, ref, project.StudentFee)
		pay = l.move(pay, domain.PaymentStudentReleased)
	default:
		return pay, nil, apperr.InvalidState("escrow is %s, not mentor_released", pay.Status)
	}
	trail = trailOf(trail, pay, domain.PaymentCompleted, "", 0)
	pay = l.move(pay, domain.PaymentCompleted)
	return pay, trail, nil
}

// OpenDispute freezes the payment. Opening a dispute twice is a no-op.
func (l *Ledger) OpenDispute(current *domain.EscrowPayment, reason string) (domain.EscrowPayment, []Transition, error) {
	if current == nil {
		return domain.EscrowPayment{}, nil, apperr.InvalidState("no escrow payment to dispute")
	}
	pay := *current
	if pay.Status == domain.PaymentDisputed {
		return pay, nil, nil
	}
	if pay.Status.Terminal() {
		return pay, nil, apperr.InvalidState("escrow is %s and can no longer be disputed", pay.Status)
	}
	trail := trailOf(nil, pay, domain.PaymentDisputed, "", 0)
	pay.PreDisputeStatus = pay.Status
	pay.DisputeReason = reason
	pay = l.move(pay, domain.PaymentDisputed)
	return pay, trail, nil
}

// ResolveDispute reinstates the pre-dispute status or refunds the unreleased
// remainder to the client.
func (l *Ledger) ResolveDispute(ctx context.Context, current *domain.EscrowPayment, project domain.Project, outcome Resolution) (domain.EscrowPayment, []Transition, error) {
	if !outcome.Valid() {
		return domain.EscrowPayment{}, nil, apperr.InvalidArgument("unknown dispute resolution %q", outcome)
	}
	if current == nil {
		return domain.EscrowPayment{}, nil, apperr.InvalidState("no escrow payment to resolve")
	}
	pay := *current
	if pay.Status != domain.PaymentDisputed {
		return pay, nil, apperr.InvalidState("escrow is %s, not disputed", pay.Status)
	}
	if outcome == ResolveReinstate {
		if pay.PreDisputeStatus == "" {
			return pay, nil, apperr.InvalidState("escrow has no pre-dispute status to reinstate")
		}
		to := pay.PreDisputeStatus
		trail := trailOf(nil, pay, to, "", 0)
		pay.PreDisputeStatus = ""
		pay.DisputeReason = ""
		return l.move(pay, to), trail, nil
	}

	remainder := Remainder(pay, project)
	ref := ""
	if remainder > 0 {
		ref = Reference(project.ID, "refund")
		if err := l.transfer(ctx, "refund", ref, project, remainder, pay.Currency, project.ClientID); err != nil {
			return pay, nil, err
		}
	}
	trail := trailOf(nil, pay, domain.PaymentRefunded, ref, remainder)
	pay.RefundedAmount = remainder
	pay.PreDisputeStatus = ""
	return l.move(pay, domain.PaymentRefunded), trail, nil
}

// Refund returns everything held to the client when a project is withdrawn
// before any release. A pending charge is confirmed first: one that settled
// is refunded in full, one that failed closes without a transfer, and one
// still pending blocks the refund so the charge is never orphaned.
func (l *Ledger) Refund(ctx context.Context, current *domain.EscrowPayment, project domain.Project) (domain.EscrowPayment, []Transition, error) {
	if current == nil {
		return domain.EscrowPayment{}, nil, nil
	}
	pay := *current
	var trail []Transition
	switch pay.Status {
	case domain.PaymentRefunded:
		return pay, nil, nil
	case domain.PaymentEscrowed:
	case domain.PaymentPending:
		if pay.ChargeRef == "" {
			return l.move(pay, domain.PaymentRefunded), trailOf(nil, pay, domain.PaymentRefunded, "", 0), nil
		}
		ref := pay.ChargeRef
		res, err := l.call(ctx, "confirm_charge", func(ctx context.Context) (gateway.Result, error) {
			return l.Gateway.ConfirmCharge(ctx, ref)
		})
		if err != nil {
			return pay, nil, err
		}
		switch res.Status {
		case gateway.StatusSucceeded:
			trail = trailOf(trail, pay, domain.PaymentEscrowed, ref, pay.Amount)
			pay = l.move(pay, domain.PaymentEscrowed)
		case gateway.StatusPending:
			return pay, nil, apperr.WithMetadata(apperr.KindInvalidState,
				"the client's charge is still pending; retry once the gateway settles it",
				map[string]string{"charge_ref": ref})
		default:
			return l.move(pay, domain.PaymentRefunded), trailOf(nil, pay, domain.PaymentRefunded, ref, 0), nil
		}
	default:
		return pay, nil, apperr.InvalidState("escrow is %s and cannot be refunded", pay.Status)
	}
	ref := Reference(project.ID, "refund")
	if err := l.transfer(ctx, "refund", ref, project, pay.Amount, pay.Currency, project.ClientID); err != nil {
		return *current, nil, err
	}
	trail = trailOf(trail, pay, domain.PaymentRefunded, ref, pay.Amount)
	pay.RefundedAmount = pay.Amount
	return l.move(pay, domain.PaymentRefunded), trail, nil
}

// Remainder is the held amount not yet paid out, judged from the status the
// payment had when it was disputed.
func Remainder(pay domain.EscrowPayment, project domain.Project) int64 {
	status := pay.Status
	if status == domain.PaymentDisputed {
		status = pay.PreDisputeStatus
	}
	var released int64
	switch status {
	case domain.PaymentPending, "":
		return 0
	case domain.PaymentEscrowed:
	case domain.PaymentMentorReleased:
		released = project.MentorFee
	case domain.PaymentStudentReleased, domain.PaymentCompleted:
		released = project.MentorFee + project.StudentFee
	case domain.PaymentRefunded:
		return 0
	}
	if rem := pay.Amount - released; rem > 0 {
		return rem
	}
	return 0
}

func (l *Ledger) move(pay domain.EscrowPayment, to domain.PaymentStatus) domain.EscrowPayment {
	pay.Status = to
	pay.UpdatedAt = l.now()
	return pay
}

func trailOf(trail []Transition, pay domain.EscrowPayment, to domain.PaymentStatus, ref string, amount int64) []Transition {
	return append(trail, Transition{From: pay.Status, To: to, Reference: ref, Amount: amount})
}

func (l *Ledger) transfer(ctx context.Context, op, ref string, project domain.Project, amount int64, currency, payee string) error {
	if amount <= 0 {
		return nil
	}
	res, err := l.call(ctx, op, func(ctx context.Context) (gateway.Result, error) {
		return l.Gateway.Transfer(ctx, gateway.TransferRequest{
			Reference: ref,
			Amount:    amount,
			Currency:  currency,
			Payee:     payee,
			ProjectID: project.ID,
		})
	})
	if err != nil {
		return err
	}
	if res.Status != gateway.StatusSucceeded {
		// a pending transfer is not a release; the same reference converges on re-attempt
		return declined(op, res)
	}
	return nil
}

// call runs one gateway operation with a per-attempt timeout, retrying
// transient failures up to Retries more times.
func (l *Ledger) call(ctx context.Context, op string, fn func(context.Context) (gateway.Result, error)) (gateway.Result, error) {
	if l.Gateway == nil {
		return gateway.Result{}, apperr.New(apperr.KindGatewayFailure, "no payment gateway configured")
	}
	timeout := l.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	interval := l.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	retries := l.Retries
	if retries < 0 {
		retries = 0
	}
	attempt := func() (gateway.Result, error) {
		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		res, err := fn(actx)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, gateway.ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return res, backoff.Permanent(err)
			}
			return res, err
		}
		return res, backoff.Permanent(err)
	}
	res, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxTries(uint(retries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			l.log().Warn("gateway call failed, retrying", "operation", op, "error", err, "next", next)
		}),
	)
	if err != nil {
		metrics.IncGatewayCall(op, "error")
		l.log().Error("gateway call failed", "operation", op, "error", err)
		return res, apperr.Wrap(apperr.KindGatewayFailure, op+" failed", err)
	}
	metrics.IncGatewayCall(op, string(res.Status))
	return res, nil
}

func declined(op string, res gateway.Result) error {
	msg := fmt.Sprintf("%s was not confirmed by the gateway (status %s)", op, res.Status)
	if res.Message != "" {
		msg += ": " + res.Message
	}
	return apperr.WithMetadata(apperr.KindGatewayFailure, msg, map[string]string{
		"operation": op,
		"status":    string(res.Status),
		"reference": res.Reference,
	})
}
