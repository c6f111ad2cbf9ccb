package agentloop

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Decision is the user's answer to an approval request.
type Decision string

const (
	DecisionApprove    Decision = "approve"
	DecisionReject     Decision = "reject"
	DecisionApproveAll Decision = "approve_all"
)

// ApprovalRequest describes a pending mutating tool call. Diff is set for
// file changes, Command for run_command.
type ApprovalRequest struct {
	ID      string `json:"id"`
	CallID  string `json:"call_id"`
	Tool    string `json:"tool"`
	Summary string `json:"summary"`
	Path    string `json:"path,omitempty"`
	Diff    string `json:"diff,omitempty"`
	Command string `json:"command,omitempty"`
}

// Approver is implemented by front ends to ask the user about a request.
// Approve must return when ctx is cancelled.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (Decision, error)
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, req ApprovalRequest) (Decision, error)

func (f ApproverFunc) Approve(ctx context.Context, req ApprovalRequest) (Decision, error) {
	return f(ctx, req)
}

// ApprovalGate decides whether a mutating tool call may proceed.
type ApprovalGate struct {
	mu          sync.Mutex
	autoApprove bool
	approver    Approver
	notify      func(req ApprovalRequest, auto bool)
}

// NewApprovalGate creates a gate. A nil approver rejects every request
// unless auto-approve is on.
func NewApprovalGate(approver Approver, autoApprove bool) *ApprovalGate {
	return &ApprovalGate{approver: approver, autoApprove: autoApprove}
}

// SetAutoApprove toggles approving every request without asking.
func (g *ApprovalGate) SetAutoApprove(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.autoApprove = on
}

// AutoApprove reports whether requests are approved without asking.
func (g *ApprovalGate) AutoApprove() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.autoApprove
}

// SetApprover replaces the front end's approver.
func (g *ApprovalGate) SetApprover(a Approver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.approver = a
}

func (g *ApprovalGate) onRequest(fn func(req ApprovalRequest, auto bool)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notify = fn
}

// Request blocks until the approver answers or ctx is done. A cancelled wait
// returns DecisionReject with the context error.
func (g *ApprovalGate) Request(ctx context.Context, req ApprovalRequest) (Decision, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	g.mu.Lock()
	auto := g.autoApprove
	approver := g.approver
	notify := g.notify
	g.mu.Unlock()

	if notify != nil {
		notify(req, auto)
	}
	if auto {
		return DecisionApprove, nil
	}
	if approver == nil {
		return DecisionReject, nil
	}

	type answer struct {
		decision Decision
		err      error
	}
	done := make(chan answer, 1)
	go func() {
		d, err := approver.Approve(ctx, req)
		done <- answer{d, err}
	}()

	select {
	case <-ctx.Done():
		return DecisionReject, ctx.Err()
	case a := <-done:
		if a.err != nil {
			return DecisionReject, a.err
		}
		switch a.decision {
		case DecisionApprove:
			return DecisionApprove, nil
		case DecisionApproveAll:
			g.SetAutoApprove(true)
			return DecisionApproveAll, nil
		default:
			return DecisionReject, nil
		}
	}
}
