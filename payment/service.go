package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jonwraymond/depguard/cache"
	"github.com/jonwraymond/depguard/ledger"
	"github.com/jonwraymond/depguard/observe"
	"github.com/jonwraymond/depguard/resilience"
)

// DependencyKey is the executor key every charge runs under.
const DependencyKey resilience.DependencyKey = "payment-service"

// Charger submits a charge to a provider.
type Charger interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// Ledger stores completed charges.
type Ledger interface {
	Record(ctx context.Context, p *ledger.Payment) error
	Get(ctx context.Context, id string) (*ledger.Payment, error)
}

// Service validates, deduplicates, executes and records charges.
type Service struct {
	client Charger
	exec   *resilience.Executor
	ledger Ledger
	idem   *cache.Idempotency
	logger observe.Logger
}

// NewService creates a service. ledger and idem may be nil to skip
// recording and deduplication.
func NewService(client Charger, exec *resilience.Executor, ledger Ledger, idem *cache.Idempotency, logger observe.Logger) *Service {
	if logger == nil {
		logger = observe.NopLogger()
	}
	return &Service{
		client: client,
		exec:   exec,
		ledger: ledger,
		idem:   idem,
		logger: logger.With(observe.Field{Key: "component", Value: "payment"}),
	}
}

// Charge runs req through the executor and records the result.
//
// A request carrying an idempotency key that already completed returns the
// first result with Replayed set, without calling the provider. Reusing a
// key for a different request is a caller fault on "idempotency_key".
// If the provider accepted the charge but the ledger could not record it,
// the error wraps ErrNotRecorded; retrying with the same key is safe.
func (s *Service) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	if req.IdempotencyKey == "" || s.idem == nil {
		return s.charge(ctx, req)
	}

	raw, hit, err := s.idem.Do(ctx, req.IdempotencyKey, req, func(ctx context.Context) ([]byte, error) {
		result, err := s.charge(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	})
	switch {
	case errors.Is(err, cache.ErrKeyConflict):
		return nil, resilience.CallerFault(ErrIdempotencyReuse, "idempotency_key")
	case err != nil:
		return nil, err
	}

	var result ChargeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("payment: decode stored charge: %w", err)
	}
	if hit {
		result.Replayed = true
		s.logger.Info(ctx, "charge replayed",
			observe.Field{Key: "transaction_id", Value: result.TransactionID},
			observe.Field{Key: "idempotency_key", Value: req.IdempotencyKey},
		)
	}
	return &result, nil
}

// Get returns a recorded charge.
func (s *Service) Get(ctx context.Context, id string) (*ledger.Payment, error) {
	if s.ledger == nil {
		return nil, resilience.CallerFault(ledger.ErrNotFound, "id")
	}
	return s.ledger.Get(ctx, id)
}

func (s *Service) charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	result, err := resilience.Call(ctx, s.exec, DependencyKey, func(ctx context.Context) (*ChargeResult, error) {
		return s.client.Charge(ctx, req)
	})
	if err != nil {
		s.logger.Warn(ctx, "charge failed",
			observe.Field{Key: "user_id", Value: req.UserID},
			observe.Field{Key: "provider", Value: req.Provider},
			observe.Field{Key: "amount", Value: req.Amount},
			observe.Field{Key: "error_class", Value: observe.ErrorClass(err)},
			observe.Field{Key: "error", Value: err},
		)
		return nil, err
	}

	if s.ledger != nil {
		err := s.ledger.Record(ctx, &ledger.Payment{
			ID:             result.TransactionID,
			UserID:         req.UserID,
			Provider:       req.Provider,
			Amount:         result.Amount,
			Currency:       result.Currency,
			Status:         result.Status,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			s.logger.Error(ctx, "charge not recorded",
				observe.Field{Key: "transaction_id", Value: result.TransactionID},
				observe.Field{Key: "error", Value: err},
			)
			return nil, fmt.Errorf("%w: %s: %w", ErrNotRecorded, result.TransactionID, err)
		}
	}

	s.logger.Info(ctx, "charge completed",
		observe.Field{Key: "transaction_id", Value: result.TransactionID},
		observe.Field{Key: "amount", Value: result.Amount},
		observe.Field{Key: "currency", Value: result.Currency},
		observe.Field{Key: "status", Value: result.Status},
	)
	return result, nil
}
