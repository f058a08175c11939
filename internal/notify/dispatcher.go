package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/netneural/sync-core/internal/activity"
	"github.com/netneural/sync-core/internal/infrastructure/config"
	"github.com/netneural/sync-core/internal/infrastructure/logging"
	"github.com/netneural/sync-core/internal/integration"
)

// Broadcaster pushes delivery events to connected clients.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// DispatcherConfig wires the dispatcher's dependencies.
type DispatcherConfig struct {
	Deliveries    Repository
	Integrations  integration.Repository
	Activity      activity.Repository
	Notifications config.NotificationsConfig
	HTTPClient    *http.Client
	Logger        *logging.Logger
	Events        Broadcaster

	// Transports overrides the default channel transports; nil gets the
	// built-in email, slack and webhook set.
	Transports map[Channel]Transport
}

// Dispatcher sends notifications and records every attempt.
type Dispatcher struct {
	deliveries   Repository
	integrations integration.Repository
	activity     activity.Repository
	transports   map[Channel]Transport
	cooldown     time.Duration
	timeout      time.Duration
	log          *logging.Logger
	events       Broadcaster
}

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}

	transports := cfg.Transports
	if transports == nil {
		httpc := cfg.HTTPClient
		if httpc == nil {
			httpc = &http.Client{Timeout: cfg.Notifications.Timeout()}
		}
		transports = map[Channel]Transport{
			ChannelEmail:   NewEmailTransport(httpc),
			ChannelSlack:   NewSlackTransport(httpc),
			ChannelWebhook: NewWebhookTransport(httpc),
		}
	}

	return &Dispatcher{
		deliveries:   cfg.Deliveries,
		integrations: cfg.Integrations,
		activity:     cfg.Activity,
		transports:   transports,
		cooldown:     cfg.Notifications.Cooldown(),
		timeout:      cfg.Notifications.Timeout(),
		log:          log.With("component", "dispatcher"),
		events:       cfg.Events,
	}
}

// Send delivers a notification and returns the recorded delivery.
//
// A request carrying a cooldown key within the cooldown window of the
// previous successful delivery is persisted as a skipped no-op, not an
// error.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (*Delivery, error) {
	if req.OrganizationID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalid)
	}
	if _, ok := d.transports[req.Channel]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrChannelUnsupported, req.Channel)
	}

	delivery := &Delivery{
		OrganizationID: req.OrganizationID,
		IntegrationID:  req.IntegrationID,
		Channel:        req.Channel,
		Recipients:     req.Recipients,
		Subject:        req.Subject,
		Payload:        req.Payload,
		CooldownKey:    req.CooldownKey,
	}

	if req.CooldownKey != "" {
		last, err := d.deliveries.LastSuccessAt(ctx, req.CooldownKey)
		if err != nil {
			return nil, err
		}
		if !last.IsZero() && time.Since(last) < d.cooldown {
			now := time.Now().UTC()
			delivery.Status = StatusSkipped
			delivery.CompletedAt = &now
			if err := d.deliveries.Create(ctx, delivery); err != nil {
				return nil, err
			}
			d.log.Debug("notification cooldown-gated",
				"cooldown_key", req.CooldownKey, "delivery_id", delivery.ID)
			return delivery, nil
		}
	}

	if err := d.deliveries.Create(ctx, delivery); err != nil {
		return nil, err
	}

	return d.attempt(ctx, delivery)
}

// Retry re-sends a failed or timed-out delivery with its original
// payload and recipients.
func (d *Dispatcher) Retry(ctx context.Context, deliveryID string) (*Delivery, error) {
	delivery, err := d.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}

	if delivery.Status != StatusFailed && delivery.Status != StatusTimeout {
		return nil, fmt.Errorf("%w: status %s", ErrNotRetryable, delivery.Status)
	}

	delivery.RetryCount++
	delivery.Status = StatusPending
	delivery.ResponseCode = nil
	delivery.ResponseTimeMs = nil
	delivery.Error = ""
	delivery.CompletedAt = nil
	if err := d.deliveries.Update(ctx, delivery); err != nil {
		return nil, err
	}

	return d.attempt(ctx, delivery)
}

// attempt runs the transport and seals the delivery's outcome.
func (d *Dispatcher) attempt(ctx context.Context, delivery *Delivery) (*Delivery, error) {
	settings, err := d.settings(ctx, delivery)
	if err != nil {
		d.seal(ctx, delivery, 0, 0, err)
		return delivery, err
	}

	transport := d.transports[delivery.Channel]

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	code, sendErr := transport.Deliver(sendCtx, delivery, settings)
	elapsed := time.Since(start)

	d.seal(ctx, delivery, code, elapsed, sendErr)
	return delivery, nil
}

// settings resolves channel credentials from the backing integration.
// The integration, when present, must still be active.
func (d *Dispatcher) settings(ctx context.Context, delivery *Delivery) (integration.Settings, error) {
	if delivery.IntegrationID == nil {
		return integration.Settings{}, nil
	}

	integ, err := d.integrations.GetByID(ctx, *delivery.IntegrationID)
	if err != nil {
		return nil, err
	}
	if integ.Status != integration.StatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrIntegrationInactive, integ.ID, integ.Status)
	}
	return integ.Settings, nil
}

func (d *Dispatcher) seal(ctx context.Context, delivery *Delivery, code int, elapsed time.Duration, sendErr error) {
	now := time.Now().UTC()
	delivery.CompletedAt = &now
	if code != 0 {
		delivery.ResponseCode = &code
	}
	if elapsed > 0 {
		ms := elapsed.Milliseconds()
		delivery.ResponseTimeMs = &ms
	}

	switch {
	case sendErr == nil:
		delivery.Status = StatusSuccess
	case errors.Is(sendErr, context.DeadlineExceeded):
		delivery.Status = StatusTimeout
		delivery.Error = "transport deadline exceeded"
	default:
		delivery.Status = StatusFailed
		delivery.Error = sendErr.Error()
	}

	if err := d.deliveries.Update(ctx, delivery); err != nil {
		d.log.Error("sealing delivery", "delivery_id", delivery.ID, "error", err)
	}

	status := activity.StatusSuccess
	if delivery.Status != StatusSuccess {
		status = activity.StatusFailure
	}
	entry := &activity.Entry{
		OrganizationID: delivery.OrganizationID,
		Type:           activity.TypeNotification,
		Status:         status,
		Message: fmt.Sprintf("notification %s via %s (attempt %d)",
			delivery.Status, delivery.Channel, delivery.RetryCount+1),
		Metadata: map[string]any{
			"delivery_id": delivery.ID,
			"channel":     string(delivery.Channel),
			"status":      string(delivery.Status),
		},
	}
	if delivery.IntegrationID != nil {
		entry.IntegrationID = *delivery.IntegrationID
	}
	if err := d.activity.Create(ctx, entry); err != nil {
		d.log.Error("recording notification activity", "delivery_id", delivery.ID, "error", err)
	}

	if d.events != nil {
		d.events.Broadcast("notification.sent", delivery)
	}
}
