package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/hospitalops/appointment-management/internal/booking"
)

const (
	ExchangeName   = "appointment.events"
	QueueConfirmed = "appointment.confirmed"
	QueueCancelled = "appointment.cancelled"

	// Queue-level message TTL, 24 hours in milliseconds.
	queueMessageTTL = int32(86400000)
)

// Publisher delivers appointment notifications to RabbitMQ best-effort.
// Delivery failures are logged and reported as false, never escalated: the
// appointment state is committed before a publish is attempted and must not
// depend on it.
//
// The connection and channel are one shared lazily-repaired resource; the
// amqp channel is not safe for concurrent use, so every publish holds the
// mutex for the health check, the optional reconnect, and the write.
type Publisher struct {
	url            string
	dialTimeout    time.Duration
	publishTimeout time.Duration
	log            *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher connects eagerly so broker misconfiguration surfaces at
// startup, but a failed first connect only logs: the next publish retries.
func NewPublisher(url string, dialTimeout, publishTimeout time.Duration, log *zap.Logger) *Publisher {
	p := &Publisher{
		url:            url,
		dialTimeout:    dialTimeout,
		publishTimeout: publishTimeout,
		log:            log,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		log.Warn("rabbitmq unavailable at startup, will retry on first publish", zap.Error(err))
	}
	return p
}

// AppointmentConfirmed publishes an appointment_confirmed event.
func (p *Publisher) AppointmentConfirmed(ctx context.Context, snap booking.Snapshot) bool {
	now := time.Now()
	return p.publish(ctx, QueueConfirmed, buildConfirmedEvent(snap, now), messageID(EventAppointmentConfirmed, snap, now))
}

// AppointmentCancelled publishes an appointment_cancelled event for an
// appointment that had previously been confirmed.
func (p *Publisher) AppointmentCancelled(ctx context.Context, snap booking.Snapshot) bool {
	now := time.Now()
	return p.publish(ctx, QueueCancelled, buildCancelledEvent(snap, now), messageID(EventAppointmentCancelled, snap, now))
}

// Healthy reports whether the broker connection is currently usable.
func (p *Publisher) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthyLocked()
}

// Close tears the channel and connection down. Safe to call once at
// shutdown; publishes after Close reconnect like any unhealthy state.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
	p.log.Info("rabbitmq publisher closed")
}

func (p *Publisher) publish(ctx context.Context, routingKey string, ev Event, msgID string) bool {
	body, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("marshal event", zap.String("event_type", ev.EventType), zap.Error(err))
		return false
	}

	if p.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.publishTimeout)
		defer cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.healthyLocked() {
		p.log.Warn("rabbitmq connection unhealthy, attempting to reconnect")
		p.teardownLocked()
		if err := p.connectLocked(); err != nil {
			p.log.Error("cannot publish event: rabbitmq connection not available",
				zap.String("event_type", ev.EventType), zap.Error(err))
			return false
		}
	}

	err = p.ch.PublishWithContext(ctx, ExchangeName, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msgID,
		Timestamp:    ev.Timestamp,
		Body:         body,
	})
	if err != nil {
		p.log.Error("publish event",
			zap.String("event_type", ev.EventType),
			zap.String("routing_key", routingKey),
			zap.Error(err))
		return false
	}

	p.log.Info("published event",
		zap.String("event_type", ev.EventType),
		zap.String("appointment_id", ev.Data.AppointmentID))
	return true
}

func (p *Publisher) healthyLocked() bool {
	return p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed()
}

// connectLocked dials with a bounded timeout and redeclares the full
// topology, so a broker restart cannot leave the queues missing.
func (p *Publisher) connectLocked() error {
	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Dial:      amqp.DefaultDial(p.dialTimeout),
		Heartbeat: 10 * time.Second,
	})
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	p.conn = conn
	p.ch = ch
	p.log.Info("rabbitmq connection established")
	return nil
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	args := amqp.Table{"x-message-ttl": queueMessageTTL}
	for _, queue := range []string{QueueConfirmed, QueueCancelled} {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
			return err
		}
		// Routing key equals the queue name.
		if err := ch.QueueBind(queue, queue, ExchangeName, false, nil); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) teardownLocked() {
	if p.ch != nil && !p.ch.IsClosed() {
		_ = p.ch.Close()
	}
	if p.conn != nil && !p.conn.IsClosed() {
		_ = p.conn.Close()
	}
	p.ch = nil
	p.conn = nil
}
