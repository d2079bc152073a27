package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/danilovkiri/dk-go-nowserving/internal/models/modelqueue"
	serviceErrors "github.com/danilovkiri/dk-go-nowserving/internal/service/dispatcher/v1/errors"
)

// CooldownWindow is the minimum time between two admissions of one uid to one queue.
const CooldownWindow = 2000 * time.Millisecond

// Admit verifies the credential, applies the admission policy and inserts a waiting entry.
func (d *Dispatcher) Admit(ctx context.Context, queueID, credential string) (*modelqueue.WaitingEntry, error) {
	entry, err := d.admit(ctx, queueID, credential)
	if err != nil {
		code := serviceErrors.CodeOf(err)
		if code == "" {
			code = "error"
		}
		d.metrics.Admission(code)
		return nil, err
	}
	d.metrics.Admission("ok")
	d.refreshWaiting(ctx, queueID)
	return entry, nil
}

func (d *Dispatcher) admit(ctx context.Context, queueID, credential string) (*modelqueue.WaitingEntry, error) {
	if credential == "" {
		return nil, &serviceErrors.PermissionError{Code: serviceErrors.CodeUnauthenticated, Msg: "not logged in"}
	}
	identity, err := d.secretary.ValidateToken(credential)
	if err != nil {
		return nil, &serviceErrors.PermissionError{Code: serviceErrors.CodeUnauthenticated, Msg: err.Error()}
	}
	if _, err := d.getQueue(ctx, queueID); err != nil {
		return nil, err
	}
	email := strings.TrimSpace(identity.Email)
	if !identity.EmailVerified {
		return nil, &serviceErrors.PermissionError{Code: serviceErrors.CodeEmailUnverified, Msg: "email is not verified"}
	}
	if !d.policy.DomainAllowed(email) {
		return nil, &serviceErrors.PermissionError{Code: serviceErrors.CodeDomainNotAllowed, Msg: "email domain is not allowed"}
	}
	blocked, err := d.blockList.IsBlocked(ctx, email)
	if err != nil {
		return nil, translate(err)
	}
	if blocked {
		return nil, &serviceErrors.PermissionError{Code: serviceErrors.CodeBlocked, Msg: "user is blocked"}
	}

	// fast rejection outside the transaction, re-validated inside it
	existing, err := d.storage.FindWaiting(ctx, queueID, identity.UID)
	if err != nil {
		return nil, translate(err)
	}
	if existing != nil {
		return nil, &serviceErrors.ConflictError{Code: serviceErrors.CodeAlreadyWaiting, Msg: "already in queue"}
	}
	current, err := d.storage.GetCurrent(ctx, queueID)
	if err != nil {
		return nil, translate(err)
	}
	if current != nil && current.UID == identity.UID {
		return nil, &serviceErrors.ConflictError{Code: serviceErrors.CodeAlreadyServing, Msg: "already being served"}
	}

	entry, err := d.storage.Admit(ctx, queueID, identity.UID, func(mark *modelqueue.RateLimitMark) (*modelqueue.WaitingEntry, error) {
		now := d.now()
		if mark.Cooling(now, CooldownWindow) {
			return nil, &serviceErrors.ConflictError{Code: serviceErrors.CodeRateLimited, Msg: "please wait before booking again"}
		}
		return &modelqueue.WaitingEntry{
			ID:         d.newID(),
			Email:      email,
			Priority:   ClassifyPriority(email),
			AdmittedAt: now,
		}, nil
	})
	if err != nil {
		return nil, translate(err)
	}
	d.log.Info().Msg(fmt.Sprintf("entry %s admitted to queue %s with priority %d", entry.ID, queueID, entry.Priority))
	return entry, nil
}
