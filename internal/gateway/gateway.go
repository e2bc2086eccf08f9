// Package gateway talks to the external payment provider that holds and moves
// escrowed funds. Every call carries an idempotency reference; the provider
// must treat a repeated reference as the same operation.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Status is the provider's view of a charge or transfer.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
)

// ErrTransient marks failures worth one more attempt: timeouts, network
// errors and provider 5xx responses.
var ErrTransient = errors.New("transient gateway error")

// Transient wraps err so errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// ChargeRequest asks the provider to take funds from the payer.
type ChargeRequest struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Payer     string `json:"payer"`
	ProjectID string `json:"project_id"`
}

// TransferRequest asks the provider to pay out held funds.
type TransferRequest struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Payee     string `json:"payee"`
	ProjectID string `json:"project_id"`
}

// Result is the outcome of a single provider call.
type Result struct {
	Reference string `json:"reference"`
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
}

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (Result, error)
	ConfirmCharge(ctx context.Context, reference string) (Result, error)
	Transfer(ctx context.Context, req TransferRequest) (Result, error)
}
