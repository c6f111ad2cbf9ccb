package agentloop

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestApprovalGateAutoApprove(t *testing.T) {
	called := false
	gate := NewApprovalGate(ApproverFunc(func(context.Context, ApprovalRequest) (Decision, error) {
		called = true
		return DecisionReject, nil
	}), true)

	d, err := gate.Request(context.Background(), ApprovalRequest{Tool: "write_file"})
	if err != nil || d != DecisionApprove {
		t.Fatalf("Request = %q, %v", d, err)
	}
	if called {
		t.Error("approver consulted while auto-approve is on")
	}
}

func TestApprovalGateNoApproverRejects(t *testing.T) {
	gate := NewApprovalGate(nil, false)
	d, err := gate.Request(context.Background(), ApprovalRequest{Tool: "run_command"})
	if err != nil || d != DecisionReject {
		t.Fatalf("Request = %q, %v", d, err)
	}
}

func TestApprovalGateApproveAll(t *testing.T) {
	gate := NewApprovalGate(ApproverFunc(func(context.Context, ApprovalRequest) (Decision, error) {
		return DecisionApproveAll, nil
	}), false)

	d, err := gate.Request(context.Background(), ApprovalRequest{Tool: "edit_file"})
	if err != nil || d != DecisionApproveAll {
		t.Fatalf("Request = %q, %v", d, err)
	}
	if !gate.AutoApprove() {
		t.Error("approve_all did not enable auto-approve")
	}
}

func TestApprovalGateUnknownDecisionRejects(t *testing.T) {
	gate := NewApprovalGate(ApproverFunc(func(context.Context, ApprovalRequest) (Decision, error) {
		return Decision("maybe"), nil
	}), false)
	if d, _ := gate.Request(context.Background(), ApprovalRequest{}); d != DecisionReject {
		t.Errorf("decision = %q", d)
	}
}

func TestApprovalGateApproverError(t *testing.T) {
	boom := errors.New("terminal closed")
	gate := NewApprovalGate(ApproverFunc(func(context.Context, ApprovalRequest) (Decision, error) {
		return DecisionApprove, boom
	}), false)
	d, err := gate.Request(context.Background(), ApprovalRequest{})
	if d != DecisionReject || !errors.Is(err, boom) {
		t.Errorf("Request = %q, %v", d, err)
	}
}

func TestApprovalGateCancelWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	gate := NewApprovalGate(ApproverFunc(func(context.Context, ApprovalRequest) (Decision, error) {
		<-release // ignores ctx on purpose
		return DecisionApprove, nil
	}), false)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d, err := gate.Request(ctx, ApprovalRequest{})
	if d != DecisionReject || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Request = %q, %v", d, err)
	}
}

func TestApprovalGateNotifiesWithID(t *testing.T) {
	gate := NewApprovalGate(nil, true)
	var got ApprovalRequest
	var gotAuto bool
	gate.onRequest(func(req ApprovalRequest, auto bool) {
		got, gotAuto = req, auto
	})

	if _, err := gate.Request(context.Background(), ApprovalRequest{Tool: "write_file", Path: "x.go"}); err != nil {
		t.Fatal(err)
	}
	if got.ID == "" || got.Path != "x.go" || !gotAuto {
		t.Errorf("notified %+v auto=%v", got, gotAuto)
	}
}
