package notification

import (
	"context"
	"encoding/json"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/example/ec-cart-consistency/internal/apperr"
	"github.com/example/ec-cart-consistency/internal/infrastructure/store"
	"github.com/example/ec-cart-consistency/internal/metrics"
)

// KindOrderCancelled marks a cancellation notice.
const KindOrderCancelled = "order_cancelled"

// Sender delivers a message to a recipient.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Notice is the message published to the notifications topic.
type Notice struct {
	Kind      string    `json:"kind"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher is implemented by kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, key string, msg any) error
}

// KafkaSender hands notices to the notifier service through Kafka. The
// recipient is a customer id; the notifier resolves the address.
type KafkaSender struct {
	publisher Publisher
	kind      string
	now       func() time.Time
}

func NewKafkaSender(p Publisher, kind string) *KafkaSender {
	return &KafkaSender{publisher: p, kind: kind, now: time.Now}
}

func (s *KafkaSender) Send(ctx context.Context, recipient, subject, body string) error {
	return s.publisher.Publish(ctx, recipient, Notice{
		Kind:      s.kind,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		CreatedAt: s.now(),
	})
}

// Dispatcher sends notices best effort. Failures are logged and counted and
// never reach the caller.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	logger  zerolog.Logger
}

func NewDispatcher(sender Sender, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		timeout: timeout,
		logger:  logger.With().Str("component", "notification").Logger(),
	}
}

// Dispatch sends the notice. It outlives the caller's cancellation so that a
// client disconnecting after commit does not drop the notice.
func (d *Dispatcher) Dispatch(ctx context.Context, recipient, subject, body string) {
	if d == nil || d.sender == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.sender.Send(ctx, recipient, subject, body); err != nil {
		nerr := apperr.Notification(err, recipient)
		metrics.NotificationFailures.Inc()
		d.logger.Warn().Err(apperr.Cause(nerr)).Str("recipient", recipient).Str("subject", subject).Msg("notification not sent")
	}
}

// Handler consumes notices from Kafka and emails the customer.
type Handler struct {
	sender    Sender
	directory store.CustomerDirectory
	logger    zerolog.Logger
}

// NewHandler creates a new notification handler
func NewHandler(sender Sender, directory store.CustomerDirectory, logger zerolog.Logger) *Handler {
	return &Handler{
		sender:    sender,
		directory: directory,
		logger:    logger.With().Str("component", "notifier").Logger(),
	}
}

// HandleMessage processes one notice from Kafka. Malformed notices and unknown
// customers are dropped; send failures are returned for logging.
func (h *Handler) HandleMessage(ctx context.Context, key, value []byte) error {
	var n Notice
	if err := json.Unmarshal(value, &n); err != nil {
		h.logger.Error().Err(err).Str("key", string(key)).Msg("failed to unmarshal notice")
		return nil
	}

	to, err := h.directory.CustomerEmail(ctx, n.Recipient)
	if err != nil {
		h.logger.Warn().Err(err).Str("customer_id", n.Recipient).Msg("no email address for customer")
		return nil
	}

	if err := h.sender.Send(ctx, to, n.Subject, n.Body); err != nil {
		return pkgerrors.Wrapf(err, "send %s notice to customer %s", n.Kind, n.Recipient)
	}

	h.logger.Info().Str("kind", n.Kind).Str("customer_id", n.Recipient).Msg("notice emailed")
	return nil
}
