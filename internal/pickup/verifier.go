package pickup

import (
	"context"
	"errors"

	"golang.org/x/sync/singleflight"

	"github.com/mazza/sellerd/internal/domain"
	"github.com/mazza/sellerd/internal/fault"
	"github.com/mazza/sellerd/internal/invalidation"
	"github.com/mazza/sellerd/internal/lifecycle"
	"github.com/mazza/sellerd/internal/logging"
	"github.com/mazza/sellerd/internal/metrics"
	"github.com/mazza/sellerd/internal/mutation"
	"github.com/mazza/sellerd/internal/observability"
)

// Path names how a code was produced.
type Path string

const (
	PathScan   Path = "scan"
	PathManual Path = "manual"
)

// Completer submits a validated completion to the backend.
type Completer interface {
	CompleteOrder(ctx context.Context, orderID, code, idempotencyToken string) (domain.Order, error)
}

// Result describes a completed pickup.
type Result struct {
	Order            domain.Order
	Code             Code
	IdempotencyToken string
	// AlreadyCompleted is set when the backend had recorded the completion
	// before this submission.
	AlreadyCompleted bool
	RequestID        string
}

// Verifier validates pickup codes and submits completions through the
// mutation pipeline.
type Verifier struct {
	client   Completer
	pipeline *mutation.Pipeline

	// inflight collapses concurrent submissions for one order.
	inflight singleflight.Group
}

// NewVerifier creates a verifier.
func NewVerifier(client Completer, pipeline *mutation.Pipeline) *Verifier {
	return &Verifier{client: client, pipeline: pipeline}
}

// CompleteManual completes order using a code built from its own fields.
func (v *Verifier) CompleteManual(ctx context.Context, order domain.Order) (Result, error) {
	return v.complete(ctx, order, Encode(order), PathManual)
}

// CompleteScanned completes order using a code decoded from a scan.
func (v *Verifier) CompleteScanned(ctx context.Context, order domain.Order, payload string) (Result, error) {
	return v.complete(ctx, order, payload, PathScan)
}

func (v *Verifier) complete(ctx context.Context, order domain.Order, raw string, path Path) (Result, error) {
	ctx, span := observability.StartSpan(ctx, "pickup.complete",
		observability.AttrOrderID.String(order.ID),
		observability.AttrEndpoint.String(string(path)),
	)
	defer span.End()

	res, err := v.submit(ctx, order, raw)
	if err != nil {
		metrics.RecordPickupVerification(string(path), string(fault.KindOf(err)))
		observability.SetSpanError(span, err)
		logging.Op().Info("pickup rejected", "order_id", order.ID, "path", path, "error", err)
		return Result{}, err
	}
	metrics.RecordPickupVerification(string(path), "completed")
	observability.SetSpanOK(span)
	logging.Op().Info("pickup completed", "order_id", order.ID, "path", path,
		"already_completed", res.AlreadyCompleted, "request_id", res.RequestID)
	return res, nil
}

// submit is shared by both paths.
func (v *Verifier) submit(ctx context.Context, order domain.Order, raw string) (Result, error) {
	code, err := Validate(raw, order)
	if err != nil {
		return Result{}, err
	}

	token := IdempotencyToken(order.ID)
	ch := v.inflight.DoChan(order.ID, func() (any, error) {
		return v.execute(ctx, order, code, token)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return Result{}, r.Err
		}
		return r.Val.(Result), nil
	case <-ctx.Done():
		return Result{}, fault.Wrap(fault.KindCancelled, "pickup cancelled", ctx.Err())
	}
}

func (v *Verifier) execute(ctx context.Context, order domain.Order, code Code, token string) (Result, error) {
	local, err := lifecycle.Apply(order, domain.OrderCompleted, lifecycle.ActorPickup)
	if err != nil {
		return Result{}, err
	}

	out := v.pipeline.Execute(ctx, mutation.Request{
		Kind:             invalidation.CompleteOrder,
		ResourceKey:      invalidation.KeyLiveOrders,
		Payload:          code.String(),
		IdempotencyToken: token,
		Call: func(ctx context.Context) (any, error) {
			confirmed, err := v.client.CompleteOrder(ctx, order.ID, code.String(), token)
			if err != nil && !errors.Is(err, fault.ErrAlreadyCompleted) {
				return nil, err
			}
			if confirmed.ID != order.ID {
				confirmed = local
			} else if confirmed.Status != domain.OrderCompleted {
				return nil, fault.Newf(fault.KindDecodeError,
					"backend confirmed completion of order %s with status %s", order.ID, confirmed.Status)
			}
			return confirmed, err
		},
		Reconcile: func(prev any, ok bool, result any) (any, bool) {
			orders, isList := prev.([]domain.Order)
			if !ok || !isList {
				return nil, false
			}
			return domain.ReplaceOrder(orders, result.(domain.Order)), true
		},
		AlreadyApplied: func(err error) bool {
			return errors.Is(err, fault.ErrAlreadyCompleted)
		},
	})
	if out.Err != nil {
		return Result{}, out.Err
	}

	completed, _ := out.Value.(domain.Order)
	return Result{
		Order:            completed,
		Code:             code,
		IdempotencyToken: token,
		AlreadyCompleted: out.AlreadyApplied,
		RequestID:        out.RequestID,
	}, nil
}
