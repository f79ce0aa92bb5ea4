package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/keepsakehq/keepsake/internal/mail"
	"github.com/keepsakehq/keepsake/internal/validate"
)

// ErrInvalidEmail is returned when the recipient address fails validation.
var ErrInvalidEmail = errors.New("invalid recipient email")

// InviterConfig configures an Inviter.
type InviterConfig struct {
	// BaseDomain is the apex under which tenant landing pages are served;
	// claim links use the {lp_id}.{tenant}.{base_domain} convention.
	BaseDomain string
	// Logger for invite activity.
	Logger *slog.Logger
	// Now supplies the clock; defaults to time.Now.
	Now func() time.Time
}

// Inviter creates claim requests and dispatches their claim links through
// the email-delivery channel.
type Inviter struct {
	store   Store
	channel mail.Channel
	config  InviterConfig
}

// NewInviter creates a new Inviter.
func NewInviter(config InviterConfig, store Store, channel mail.Channel) *Inviter {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Inviter{
		store:   store,
		channel: channel,
		config:  config,
	}
}

// Invite creates a new claim request in the sent state and dispatches the
// claim link. A delivery failure is logged but does not undo the created
// request; delivery is best-effort and the channel owns retries, if any.
func (i *Inviter) Invite(ctx context.Context, tenantID, lpID, email string) (*Request, error) {
	email, err := validate.Email(email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}

	now := i.config.Now().UTC()
	req := &Request{
		RequestID: uuid.New().String(),
		Tenant:    tenantID,
		LpID:      lpID,
		Email:     email,
		Status:    StatusSent,
		SentAt:    now,
		UpdatedAt: now,
	}

	if err := i.store.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create claim request: %w", err)
	}

	claimURL := i.claimURL(req)
	if err := i.channel.Send(ctx, email, claimURL); err != nil {
		i.config.Logger.Error("claim link delivery failed",
			"request_id", req.RequestID,
			"tenant", tenantID,
			"lp_id", lpID,
			"error", err)
	}

	i.config.Logger.Info("claim request created",
		"request_id", req.RequestID,
		"tenant", tenantID,
		"lp_id", lpID)

	return req, nil
}

// claimURL composes the tenant-scoped claim link for a request.
func (i *Inviter) claimURL(req *Request) string {
	u := url.URL{
		Scheme: "https",
		Host:   fmt.Sprintf("%s.%s.%s", req.LpID, req.Tenant, i.config.BaseDomain),
		Path:   "/claim/" + req.RequestID,
	}
	return u.String()
}
