package x402

import (
	"context"
	"sync"

	"github.com/x402go/facilitator/types"
)

// Hook signatures. Hooks never alter the result; they observe it (for
// structured logging, metrics, tracing) and must not block the caller for
// long — they run synchronously inline with the request.
type (
	BeforeVerifyHook func(ctx context.Context, info types.RequirementsInfo)
	AfterVerifyHook  func(ctx context.Context, info types.RequirementsInfo, resp *VerifyResponse)
	VerifyFailureHook func(ctx context.Context, info types.RequirementsInfo, err error)

	BeforeSettleHook func(ctx context.Context, info types.RequirementsInfo)
	AfterSettleHook  func(ctx context.Context, info types.RequirementsInfo, resp *SettleResponse)
	SettleFailureHook func(ctx context.Context, info types.RequirementsInfo, err error)
)

// facilitatorHooks holds the registered hook slices. Multiple hooks of the
// same kind may be registered (e.g. one for logging, one for metrics); all
// run in registration order.
type facilitatorHooks struct {
	mu sync.RWMutex

	beforeVerify  []BeforeVerifyHook
	afterVerify   []AfterVerifyHook
	verifyFailure []VerifyFailureHook

	beforeSettle  []BeforeSettleHook
	afterSettle   []AfterSettleHook
	settleFailure []SettleFailureHook
}

// OnBeforeVerify registers a hook invoked right before a verify pipeline
// runs, once the (version, network, scheme) slug is known.
func (f *LocalFacilitator) OnBeforeVerify(hook BeforeVerifyHook) *LocalFacilitator {
	f.hooks.mu.Lock()
	defer f.hooks.mu.Unlock()
	f.hooks.beforeVerify = append(f.hooks.beforeVerify, hook)
	return f
}

// OnAfterVerify registers a hook invoked after a successful verify.
func (f *LocalFacilitator) OnAfterVerify(hook AfterVerifyHook) *LocalFacilitator {
	f.hooks.mu.Lock()
	defer f.hooks.mu.Unlock()
	f.hooks.afterVerify = append(f.hooks.afterVerify, hook)
	return f
}

// OnVerifyFailure registers a hook invoked when verify returns an error.
func (f *LocalFacilitator) OnVerifyFailure(hook VerifyFailureHook) *LocalFacilitator {
	f.hooks.mu.Lock()
	defer f.hooks.mu.Unlock()
	f.hooks.verifyFailure = append(f.hooks.verifyFailure, hook)
	return f
}

// OnBeforeSettle registers a hook invoked right before a settle pipeline
// runs.
func (f *LocalFacilitator) OnBeforeSettle(hook BeforeSettleHook) *LocalFacilitator {
	f.hooks.mu.Lock()
	defer f.hooks.mu.Unlock()
	f.hooks.beforeSettle = append(f.hooks.beforeSettle, hook)
	return f
}

// OnAfterSettle registers a hook invoked after a successful settle.
func (f *LocalFacilitator) OnAfterSettle(hook AfterSettleHook) *LocalFacilitator {
	f.hooks.mu.Lock()
	defer f.hooks.mu.Unlock()
	f.hooks.afterSettle = append(f.hooks.afterSettle, hook)
	return f
}

// OnSettleFailure registers a hook invoked when settle returns an error.
func (f *LocalFacilitator) OnSettleFailure(hook SettleFailureHook) *LocalFacilitator {
	f.hooks.mu.Lock()
	defer f.hooks.mu.Unlock()
	f.hooks.settleFailure = append(f.hooks.settleFailure, hook)
	return f
}

func (h *facilitatorHooks) runBeforeVerify(ctx context.Context, info types.RequirementsInfo) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, hook := range h.beforeVerify {
		hook(ctx, info)
	}
}

func (h *facilitatorHooks) runAfterVerify(ctx context.Context, info types.RequirementsInfo, resp *VerifyResponse) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, hook := range h.afterVerify {
		hook(ctx, info, resp)
	}
}

func (h *facilitatorHooks) runVerifyFailure(ctx context.Context, info types.RequirementsInfo, err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, hook := range h.verifyFailure {
		hook(ctx, info, err)
	}
}

func (h *facilitatorHooks) runBeforeSettle(ctx context.Context, info types.RequirementsInfo) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, hook := range h.beforeSettle {
		hook(ctx, info)
	}
}

func (h *facilitatorHooks) runAfterSettle(ctx context.Context, info types.RequirementsInfo, resp *SettleResponse) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, hook := range h.afterSettle {
		hook(ctx, info, resp)
	}
}

func (h *facilitatorHooks) runSettleFailure(ctx context.Context, info types.RequirementsInfo, err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, hook := range h.settleFailure {
		hook(ctx, info, err)
	}
}
