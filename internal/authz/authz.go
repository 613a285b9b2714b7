// Package authz implements the Authorization Gate (spec.md §4.4): a
// per-invocation check combining claim-state preconditions, identity
// resolution of the caller, and a policy decision for the permissions the
// method requires.
//
// The policy engine itself is an out-of-scope external collaborator
// (spec.md §1); PolicyEngine is that boundary, and LocalPolicy is the one
// shipped implementation, grounded on the other_examples ollama-proxy
// device-manager's PolkitAuthorizer (CheckDeviceAccess/CheckDeviceRegister
// + structured audit logging of every decision).
package authz

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// Permission is one of the fixed set of policy decisions the gate can ask
// for. Lower numeric value is higher priority, matching spec.md §4.4's
// "fixed priority order — the lowest-numbered value wins".
type Permission int

const (
	PermissionVerify Permission = iota
	PermissionEnroll
	PermissionSetUsername
)

func (p Permission) String() string {
	switch p {
	case PermissionVerify:
		return "verify"
	case PermissionEnroll:
		return "enroll"
	case PermissionSetUsername:
		return "setusername"
	default:
		return "unknown"
	}
}

// ClaimState is the claim-state precondition a method requires, per the
// enforcement table in spec.md §4.2.
type ClaimState int

const (
	ClaimUnclaimed ClaimState = iota
	ClaimClaimedByCaller
	ClaimAutoClaim
	ClaimAnytime
)

// ErrPermissionDenied, ErrClaimDevice and ErrAlreadyInUse map directly to
// the bus-facing error kinds spec.md §6 names; internal/bussurface
// translates them to D-Bus errors without reinterpreting them.
var (
	ErrPermissionDenied = errors.New("fprintd: permission denied")
	ErrClaimDevice      = errors.New("fprintd: device not claimed")
	ErrAlreadyInUse     = errors.New("fprintd: device already in use")
)

// PolicyEngine is the external policy service consulted synchronously for
// each privileged method call (spec.md §1's "Authorization service").
// CheckPermission may block the calling goroutine to interact with the
// caller (polkit-style interactive authentication); the gate models this
// as an ordinary blocking call, since the daemon's per-device work runs on
// its own goroutine and other devices are unaffected (spec.md §4.4: "a
// cooperative barrier... other invocations on the same device continue to
// be processed under the same rules").
type PolicyEngine interface {
	CheckPermission(ctx context.Context, sender, actingUser string, perm Permission) (bool, error)
	// ResolveSender maps a bus sender identity to a system user name.
	ResolveSender(ctx context.Context, sender string) (string, error)
}

// ClaimQuery describes the current claim state of a device for the gate's
// precheck step.
type ClaimQuery struct {
	Claimed     bool
	ClaimantID  string // the current claimant's sender, if Claimed
}

// Request is everything the gate needs to evaluate one method invocation.
type Request struct {
	Sender            string
	RequestedUsername string // empty means "caller's own identity"
	RequiredState     ClaimState
	// Permissions is tried in order; spec.md §9's preserved-as-implemented
	// behavior is "first permit wins", not "all required".
	Permissions []Permission
	// Claim reports the device's current claim state for the
	// RequiredState precheck.
	Claim ClaimQuery
}

// Decision is the gate's output: the resolved acting user, attached to the
// invocation for the handler per spec.md §4.4 step 2.
type Decision struct {
	ActingUser string
}

// Gate is the Authorization Gate.
type Gate struct {
	policy PolicyEngine
	logger logrus.FieldLogger
}

// New constructs a Gate around the given policy engine.
func New(policy PolicyEngine, logger logrus.FieldLogger) *Gate {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Gate{policy: policy, logger: logger.WithField("component", "authz-gate")}
}

// Check runs the three-step algorithm from spec.md §4.4: claim-state
// precheck, identity resolution, then permission check (first permit
// wins, by Permissions priority order).
func (g *Gate) Check(ctx context.Context, req Request) (Decision, error) {
	if err := checkClaimState(req); err != nil {
		return Decision{}, err
	}

	actingUser, err := g.resolveIdentity(ctx, req)
	if err != nil {
		return Decision{}, err
	}

	if len(req.Permissions) > 0 {
		permitted, err := g.checkAnyPermission(ctx, req.Sender, actingUser, req.Permissions)
		if err != nil {
			return Decision{}, err
		}
		if !permitted {
			g.logger.WithFields(logrus.Fields{
				"sender": req.Sender,
				"user":   actingUser,
			}).Warn("permission denied")
			return Decision{}, ErrPermissionDenied
		}
	}

	g.logger.WithFields(logrus.Fields{"sender": req.Sender, "user": actingUser}).Debug("authorized")
	return Decision{ActingUser: actingUser}, nil
}

func checkClaimState(req Request) error {
	switch req.RequiredState {
	case ClaimUnclaimed:
		if req.Claim.Claimed {
			return ErrAlreadyInUse
		}
	case ClaimClaimedByCaller:
		if !req.Claim.Claimed {
			return ErrClaimDevice
		}
		if req.Claim.ClaimantID != req.Sender {
			return ErrAlreadyInUse
		}
	case ClaimAutoClaim, ClaimAnytime:
		// No precondition; AutoClaim opens/closes around the call at the
		// device layer, Anytime needs no claim at all.
	}
	return nil
}

// resolveIdentity implements spec.md §4.4 step 2: resolve the caller's own
// identity, then decide whether RequestedUsername needs the elevated
// "setusername" permission.
func (g *Gate) resolveIdentity(ctx context.Context, req Request) (string, error) {
	if req.RequestedUsername == "" {
		return g.policy.ResolveSender(ctx, req.Sender)
	}

	callerIdentity, err := g.policy.ResolveSender(ctx, req.Sender)
	if err != nil {
		return "", err
	}
	if req.RequestedUsername == callerIdentity {
		return req.RequestedUsername, nil
	}

	permitted, err := g.policy.CheckPermission(ctx, req.Sender, req.RequestedUsername, PermissionSetUsername)
	if err != nil {
		return "", err
	}
	if !permitted {
		return "", ErrPermissionDenied
	}
	return req.RequestedUsername, nil
}

// checkAnyPermission asks the policy engine for each permission in
// priority order and stops at the first permit, per spec.md §9's
// preserve-as-implemented decision for the Open Question on Claim's
// permission semantics.
func (g *Gate) checkAnyPermission(ctx context.Context, sender, actingUser string, perms []Permission) (bool, error) {
	for _, perm := range perms {
		ok, err := g.policy.CheckPermission(ctx, sender, actingUser, perm)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
