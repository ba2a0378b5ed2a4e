package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type AMQPConfig struct {
	URL         string
	Queue       string
	Prefetch    int
	ConsumerTag string
	// DialRetries is the number of extra dial attempts after the first.
	DialRetries int
	DialBackoff time.Duration
	// ConnectionName shows up in the broker's management UI.
	ConnectionName string
}

// AMQP is a work queue on a RabbitMQ broker. Messages are published
// persistent to a durable queue through a confirm-mode channel, and
// consumed with manual acknowledgement and a bounded prefetch.
type AMQP struct {
	cfg    AMQPConfig
	conn   *amqp.Connection
	logger *slog.Logger

	pubMu sync.Mutex
	pubCh *amqp.Channel

	mu       sync.Mutex
	channels []*amqp.Channel
	lostErr  error
	lost     chan struct{}
}

// DialAMQP connects to the broker, retrying while it comes up, and declares
// the durable work queue.
func DialAMQP(ctx context.Context, cfg AMQPConfig, logger *slog.Logger) (*AMQP, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Queue == "" {
		return nil, errors.New("amqp: queue name is required")
	}
	if cfg.Prefetch < 1 {
		cfg.Prefetch = 1
	}
	if cfg.DialBackoff <= 0 {
		cfg.DialBackoff = 2 * time.Second
	}

	conn, err := dialWithRetry(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &AMQP{cfg: cfg, conn: conn, logger: logger, lost: make(chan struct{})}
	go a.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp: open channel: %w", err)
	}
	if err := a.declare(ch); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp: enable publisher confirms: %w", err)
	}
	a.pubCh = ch

	logger.Info("connected to broker", "url", redactURL(cfg.URL), "queue", cfg.Queue, "prefetch", cfg.Prefetch)
	return a, nil
}

func dialWithRetry(ctx context.Context, cfg AMQPConfig, logger *slog.Logger) (*amqp.Connection, error) {
	props := amqp.NewConnectionProperties()
	if cfg.ConnectionName != "" {
		props.SetClientConnectionName(cfg.ConnectionName)
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.DialRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("broker not reachable, retrying",
				"attempt", attempt,
				"max_retries", cfg.DialRetries,
				"backoff", cfg.DialBackoff,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("amqp: dial: %w", ctx.Err())
			case <-time.After(cfg.DialBackoff):
			}
		}
		conn, err := amqp.DialConfig(cfg.URL, amqp.Config{Properties: props})
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("amqp: dial %s: %w", redactURL(cfg.URL), lastErr)
}

// watch marks the connection lost once the client library reports it closed,
// whether by the broker, the network or Close.
func (a *AMQP) watch(closed <-chan *amqp.Error) {
	amqpErr, ok := <-closed
	err := ErrConnectionLost
	if ok && amqpErr != nil {
		err = fmt.Errorf("%w: %d %s", ErrConnectionLost, amqpErr.Code, amqpErr.Reason)
		a.logger.Error("broker connection closed", "code", amqpErr.Code, "reason", amqpErr.Reason)
	}
	a.markLost(err)
}

func (a *AMQP) markLost(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lostErr != nil {
		return
	}
	a.lostErr = err
	close(a.lost)
}

// Lost is closed when the broker connection is gone. The client does not
// reconnect; callers are expected to exit and be restarted.
func (a *AMQP) Lost() <-chan struct{} {
	return a.lost
}

// Healthy reports ErrConnectionLost once the connection is gone.
func (a *AMQP) Healthy() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lostErr
}

func (a *AMQP) declare(ch *amqp.Channel) error {
	// durable, not auto-deleted, not exclusive
	if _, err := ch.QueueDeclare(a.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp: declare queue %s: %w", a.cfg.Queue, err)
	}
	return nil
}

// Publish enqueues name and waits for the broker to confirm it.
func (a *AMQP) Publish(ctx context.Context, name string) error {
	if err := a.Healthy(); err != nil {
		return fmt.Errorf("amqp: publish: %w", err)
	}
	a.pubMu.Lock()
	defer a.pubMu.Unlock()

	conf, err := a.pubCh.PublishWithDeferredConfirmWithContext(ctx, "", a.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         []byte(name),
	})
	if err != nil {
		return fmt.Errorf("amqp: publish: %w", err)
	}
	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("amqp: wait for confirm: %w", err)
	}
	if !ok {
		return fmt.Errorf("amqp: broker rejected message %q", name)
	}
	return nil
}

// Consume opens a dedicated channel with the configured prefetch. The
// consumer is cancelled when ctx ends; deliveries already handed out can
// still be acknowledged until Close.
func (a *AMQP) Consume(ctx context.Context) (<-chan Delivery, error) {
	ch, err := a.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp: open channel: %w", err)
	}
	if err := a.declare(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.Qos(a.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp: set qos: %w", err)
	}
	tag := a.cfg.ConsumerTag
	if tag == "" {
		tag = "ocr-worker-" + uuid.NewString()[:8]
	}
	// manual ack, not exclusive
	src, err := ch.Consume(a.cfg.Queue, tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp: consume %s: %w", a.cfg.Queue, err)
	}

	a.mu.Lock()
	a.channels = append(a.channels, ch)
	a.mu.Unlock()

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				if err := ch.Cancel(tag, false); err != nil {
					a.logger.Warn("failed to cancel consumer", "tag", tag, "error", err)
				}
				return
			case amqpErr, ok := <-closed:
				if ok && amqpErr != nil {
					a.logger.Error("consumer channel closed by broker", "code", amqpErr.Code, "reason", amqpErr.Reason)
				}
				return
			case d, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- amqpDelivery{d: d}:
				case <-ctx.Done():
					// unacked; the broker redelivers it once the channel closes
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes every channel and then the connection. Unacknowledged
// deliveries go back to the queue.
func (a *AMQP) Close() error {
	a.mu.Lock()
	chans := a.channels
	a.channels = nil
	a.mu.Unlock()

	var errs []error
	for _, ch := range chans {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if a.pubCh != nil {
		if err := a.pubCh.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if err := a.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type amqpDelivery struct {
	d amqp.Delivery
}

func (d amqpDelivery) Body() string            { return string(d.d.Body) }
func (d amqpDelivery) Redelivered() bool       { return d.d.Redelivered }
func (d amqpDelivery) Ack() error              { return d.d.Ack(false) }
func (d amqpDelivery) Nack(requeue bool) error { return d.d.Nack(false, requeue) }

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
