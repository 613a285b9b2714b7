package authz

import (
	"context"
	"errors"
	"testing"
)

type fakePolicy struct {
	identity map[string]string
	grants   map[Permission]bool
}

func (f *fakePolicy) ResolveSender(ctx context.Context, sender string) (string, error) {
	if id, ok := f.identity[sender]; ok {
		return id, nil
	}
	return sender, nil
}

func (f *fakePolicy) CheckPermission(ctx context.Context, sender, actingUser string, perm Permission) (bool, error) {
	return f.grants[perm], nil
}

func TestCheckClaimStatePreconditions(t *testing.T) {
	policy := &fakePolicy{grants: map[Permission]bool{PermissionVerify: true}}
	g := New(policy, nil)

	if _, err := g.Check(context.Background(), Request{
		Sender:        "s1",
		RequiredState: ClaimUnclaimed,
		Claim:         ClaimQuery{Claimed: true, ClaimantID: "other"},
	}); !errors.Is(err, ErrAlreadyInUse) {
		t.Fatalf("expected ErrAlreadyInUse, got %v", err)
	}

	if _, err := g.Check(context.Background(), Request{
		Sender:        "s1",
		RequiredState: ClaimClaimedByCaller,
		Claim:         ClaimQuery{Claimed: false},
	}); !errors.Is(err, ErrClaimDevice) {
		t.Fatalf("expected ErrClaimDevice, got %v", err)
	}

	if _, err := g.Check(context.Background(), Request{
		Sender:        "s1",
		RequiredState: ClaimClaimedByCaller,
		Claim:         ClaimQuery{Claimed: true, ClaimantID: "someone-else"},
	}); !errors.Is(err, ErrAlreadyInUse) {
		t.Fatalf("expected ErrAlreadyInUse for a different claimant, got %v", err)
	}
}

func TestCheckPermissionFirstPermitWins(t *testing.T) {
	policy := &fakePolicy{grants: map[Permission]bool{PermissionEnroll: true}}
	g := New(policy, nil)

	decision, err := g.Check(context.Background(), Request{
		Sender:        "s1",
		RequiredState: ClaimAnytime,
		Permissions:   []Permission{PermissionVerify, PermissionEnroll},
		Claim:         ClaimQuery{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.ActingUser != "s1" {
		t.Fatalf("expected acting user s1, got %q", decision.ActingUser)
	}
}

func TestCheckPermissionDeniedWhenNonePermit(t *testing.T) {
	policy := &fakePolicy{grants: map[Permission]bool{}}
	g := New(policy, nil)

	_, err := g.Check(context.Background(), Request{
		Sender:        "s1",
		RequiredState: ClaimAnytime,
		Permissions:   []Permission{PermissionVerify, PermissionEnroll},
	})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestResolveIdentityRequestedUsernameNeedsSetUsername(t *testing.T) {
	policy := &fakePolicy{
		identity: map[string]string{"s1": "alice"},
		grants:   map[Permission]bool{},
	}
	g := New(policy, nil)

	_, err := g.Check(context.Background(), Request{
		Sender:            "s1",
		RequestedUsername: "bob",
		RequiredState:     ClaimAnytime,
	})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied for unprivileged cross-user request, got %v", err)
	}

	policy.grants[PermissionSetUsername] = true
	decision, err := g.Check(context.Background(), Request{
		Sender:            "s1",
		RequestedUsername: "bob",
		RequiredState:     ClaimAnytime,
	})
	if err != nil {
		t.Fatalf("unexpected error once setusername is granted: %v", err)
	}
	if decision.ActingUser != "bob" {
		t.Fatalf("expected acting user bob, got %q", decision.ActingUser)
	}
}

func TestLocalPolicySelfServiceGrantedByDefault(t *testing.T) {
	p := NewLocalPolicy(nil, nil)
	ok, err := p.CheckPermission(context.Background(), "s1", "s1", PermissionVerify)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected self-service verify to be granted by default")
	}

	ok, err = p.CheckPermission(context.Background(), "s1", "bob", PermissionSetUsername)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected setusername to be denied for an unprivileged sender")
	}
}

func TestLocalPolicyPrivilegedSenderGrantsSetUsername(t *testing.T) {
	p := NewLocalPolicy(map[string]bool{"root-conn": true}, nil)
	ok, err := p.CheckPermission(context.Background(), "root-conn", "bob", PermissionSetUsername)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected privileged sender to be granted setusername")
	}
}
