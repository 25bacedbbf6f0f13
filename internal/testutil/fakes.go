package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"familybook/internal/domain/billing"
	"familybook/internal/domain/issues"
	"familybook/internal/domain/notices"
)

// FakeGateway records calls. CancelFn/ChargeFn override the default
// successful answers.
type FakeGateway struct {
	mu       sync.Mutex
	Delay    time.Duration
	ChargeFn func(billing.ChargeRequest) (billing.ChargeResult, error)
	CancelFn func(billing.CancelRequest) (billing.CancelResult, error)

	Charges []billing.ChargeRequest
	Cancels []billing.CancelRequest
}

func (g *FakeGateway) wait(ctx context.Context) error {
	if g.Delay == 0 {
		return nil
	}
	select {
	case <-time.After(g.Delay):
		return nil
	case <-ctx.Done():
		return &billing.GatewayError{Status: billing.GatewayFailed, Code: "timeout", Err: ctx.Err()}
	}
}

func (g *FakeGateway) Charge(ctx context.Context, req billing.ChargeRequest) (billing.ChargeResult, error) {
	g.mu.Lock()
	g.Charges = append(g.Charges, req)
	fn := g.ChargeFn
	g.mu.Unlock()

	if err := g.wait(ctx); err != nil {
		return billing.ChargeResult{}, err
	}
	if fn != nil {
		return fn(req)
	}
	return billing.ChargeResult{TransactionID: "pi_" + req.IdempotencyKey, Status: billing.PaymentSuccess}, nil
}

func (g *FakeGateway) Cancel(ctx context.Context, req billing.CancelRequest) (billing.CancelResult, error) {
	g.mu.Lock()
	g.Cancels = append(g.Cancels, req)
	fn := g.CancelFn
	g.mu.Unlock()

	if err := g.wait(ctx); err != nil {
		return billing.CancelResult{}, err
	}
	if fn != nil {
		return fn(req)
	}
	return billing.CancelResult{Status: billing.GatewaySucceeded, RefundAmount: req.Amount}, nil
}

func (g *FakeGateway) CancelCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Cancels)
}

func (g *FakeGateway) ChargeCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Charges)
}

type FakeRenderer struct {
	mu       sync.Mutex
	Err      error
	AssetRef string

	Requests []issues.ProductionRequest
}

func (r *FakeRenderer) Produce(ctx context.Context, req issues.ProductionRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Requests = append(r.Requests, req)
	if r.Err != nil {
		return "", r.Err
	}
	return r.AssetRef, nil
}

func (r *FakeRenderer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Requests)
}

type Notice struct {
	GroupID string
	Kind    notices.Kind
	Payload notices.Payload
}

type FakeNotifier struct {
	mu      sync.Mutex
	Notices []Notice
}

func (n *FakeNotifier) Notify(ctx context.Context, groupID string, kind notices.Kind, payload notices.Payload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Notices = append(n.Notices, Notice{GroupID: groupID, Kind: kind, Payload: payload})
}

// Of returns the notices of one kind.
func (n *FakeNotifier) Of(kind notices.Kind) []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notice
	for _, x := range n.Notices {
		if x.Kind == kind {
			out = append(out, x)
		}
	}
	return out
}

var ErrAssetMissing = errors.New("asset missing")

type FakeAssets struct {
	mu        sync.Mutex
	DeleteErr error
	Objects   map[string][]byte
	Deleted   []string
}

func (a *FakeAssets) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Objects == nil {
		a.Objects = map[string][]byte{}
	}
	a.Objects[path] = data
	return "https://cdn.example.com/" + path, nil
}

func (a *FakeAssets) Delete(ctx context.Context, path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.DeleteErr != nil {
		return a.DeleteErr
	}
	a.Deleted = append(a.Deleted, path)
	delete(a.Objects, path)
	return nil
}
