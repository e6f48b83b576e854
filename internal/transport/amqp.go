package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"chat-sync/internal/observability"
)

// AMQPConnection is the Connection Manager over a RabbitMQ topic exchange.
// Each subscribed topic gets a server-named exclusive queue bound to the
// exchange with the topic as routing key. Delivery is at-least-once;
// duplicate suppression is the Reconciliation Engine's job.
type AMQPConnection struct {
	exchange    string
	dialTimeout time.Duration
	log         *zap.SugaredLogger

	mu      sync.Mutex
	state   State
	conn    *amqp.Connection
	ch      *amqp.Channel
	subs    map[string]*subscriber
	closing bool

	notify chan StateChange
}

type subscriber struct {
	queue       string
	consumerTag string
}

// NewAMQPConnection builds a disconnected connection manager.
func NewAMQPConnection(exchange string, dialTimeout time.Duration, log *zap.SugaredLogger) *AMQPConnection {
	return &AMQPConnection{
		exchange:    exchange,
		dialTimeout: dialTimeout,
		log:         log,
		state:       StateDisconnected,
		subs:        make(map[string]*subscriber),
		notify:      make(chan StateChange, 16),
	}
}

// Connect dials the broker. The credential is the authenticated AMQP URI
// for this session. Idempotent: calling while connecting or connected is
// a no-op.
func (c *AMQPConnection) Connect(ctx context.Context, credential string) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.closing = false
	c.mu.Unlock()
	c.emit(StateChange{State: StateConnecting})

	conn, err := amqp.DialConfig(credential, amqp.Config{
		Dial:      amqp.DefaultDial(c.dialTimeout),
		Heartbeat: 10 * time.Second,
	})
	if err != nil {
		c.fail(err)
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		c.fail(err)
		return err
	}

	if err := ch.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		c.fail(err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.ch = ch
	c.state = StateConnected
	c.subs = make(map[string]*subscriber)
	c.mu.Unlock()
	c.emit(StateChange{State: StateConnected})
	c.log.Infow("transport connected", "exchange", c.exchange)

	go c.watchClose(conn)
	return nil
}

// Subscribe binds a queue to the topic and streams deliveries to the
// handler in arrival order. Valid only while connected.
func (c *AMQPConnection) Subscribe(topic string, h Handler) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return Handle{}, ErrNotConnected
	}

	q, err := c.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return Handle{}, err
	}
	if err := c.ch.QueueBind(q.Name, topic, c.exchange, false, nil); err != nil {
		return Handle{}, err
	}

	tag := "sync-" + uuid.NewString()
	deliveries, err := c.ch.Consume(q.Name, tag, true, true, false, false, nil)
	if err != nil {
		return Handle{}, err
	}

	handle := Handle{ID: tag, Topic: topic}
	c.subs[handle.ID] = &subscriber{queue: q.Name, consumerTag: tag}

	go func() {
		for d := range deliveries {
			h(d.Body)
		}
	}()

	c.log.Debugw("subscribed", "topic", topic, "queue", q.Name)
	return handle, nil
}

// Unsubscribe releases the handle. Idempotent: unknown or already
// released handles are a no-op.
func (c *AMQPConnection) Unsubscribe(h Handle) {
	c.mu.Lock()
	sub, ok := c.subs[h.ID]
	if ok {
		delete(c.subs, h.ID)
	}
	ch := c.ch
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !ok || !connected || ch == nil {
		return
	}
	if err := ch.Cancel(sub.consumerTag, false); err != nil {
		c.log.Debugw("consumer cancel failed", "topic", h.Topic, "error", err)
	}
	c.log.Debugw("unsubscribed", "topic", h.Topic)
}

// Publish sends a fire-and-forget payload to a destination topic. Used
// only for secondary broadcast paths; the primary send path is REST.
func (c *AMQPConnection) Publish(ctx context.Context, destination string, payload []byte) error {
	c.mu.Lock()
	ch := c.ch
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || ch == nil {
		return ErrNotConnected
	}
	return ch.PublishWithContext(ctx, c.exchange, destination, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        payload,
	})
}

// Disconnect tears down the session and all subscriptions.
func (c *AMQPConnection) Disconnect() error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	conn := c.conn
	c.conn = nil
	c.ch = nil
	c.subs = make(map[string]*subscriber)
	c.state = StateDisconnected
	c.mu.Unlock()

	c.emit(StateChange{State: StateDisconnected})
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// State returns the current connection state.
func (c *AMQPConnection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Notify returns the ordered stream of state transitions. Single
// consumer: the session loop.
func (c *AMQPConnection) Notify() <-chan StateChange {
	return c.notify
}

func (c *AMQPConnection) fail(err error) {
	c.mu.Lock()
	c.state = StateDisconnected
	c.conn = nil
	c.ch = nil
	c.mu.Unlock()
	c.emit(StateChange{State: StateDisconnected, Cause: err})
}

// watchClose surfaces broker-side closes as a disconnected transition.
// Subscriptions do not survive the underlying connection; the controller
// re-subscribes after reconnect.
func (c *AMQPConnection) watchClose(conn *amqp.Connection) {
	closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))

	c.mu.Lock()
	if c.closing || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.conn = nil
	c.ch = nil
	c.subs = make(map[string]*subscriber)
	c.mu.Unlock()

	var cause error
	if closeErr != nil {
		cause = closeErr
	}
	c.log.Warnw("transport connection lost", "error", cause)
	c.emit(StateChange{State: StateDisconnected, Cause: cause})
}

func (c *AMQPConnection) emit(sc StateChange) {
	observability.IncConnectionTransition(string(sc.State))
	select {
	case c.notify <- sc:
	default:
		c.log.Warnw("state change dropped, notify channel full", "state", sc.State)
	}
}

var _ Connection = (*AMQPConnection)(nil)
