package subscription

import (
	"sync"

	"go.uber.org/zap"

	"chat-sync/internal/topics"
	"chat-sync/internal/transport"
)

// State is the controller phase for the active peer.
type State string

const (
	StateNoPeer     State = "no_peer"
	StateResolving  State = "resolving"
	StateSubscribed State = "subscribed"
)

// Controller owns the single live subscription pair for the active
// conversation. Switching peers always releases the previous pair before
// acquiring the new one: there is no overlap window where both peers'
// pushes could land in one list.
type Controller struct {
	conn     transport.Connection
	tenantID string
	self     string
	handler  transport.Handler
	log      *zap.SugaredLogger

	mu      sync.Mutex
	state   State
	peer    string
	pair    topics.Pair
	handles []transport.Handle
}

// New builds a controller routing both directional topics to one handler;
// messages legitimately arrive on either, since authorship direction is
// unknown to the subscriber in advance.
func New(conn transport.Connection, tenantID, self string, handler transport.Handler, log *zap.SugaredLogger) *Controller {
	return &Controller{
		conn:     conn,
		tenantID: tenantID,
		self:     self,
		handler:  handler,
		log:      log,
		state:    StateNoPeer,
	}
}

// SetPeer switches the active conversation. The previous subscription
// pair is torn down first; an empty peer just tears down. If the
// transport is not connected the controller stays in resolving and
// subscribes once HandleConnectionUp fires.
func (c *Controller) SetPeer(peer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.releaseLocked()
	c.state = StateResolving
	c.peer = peer
	c.pair = topics.Pair{}

	if peer == "" {
		c.state = StateNoPeer
		return nil
	}

	pair, err := topics.Resolve(c.tenantID, c.self, peer)
	if err != nil {
		c.state = StateNoPeer
		c.peer = ""
		return err
	}
	c.pair = pair

	return c.subscribeLocked()
}

// HandleConnectionUp re-subscribes the currently active peer. The
// transport does not preserve subscriptions across reconnects.
func (c *Controller) HandleConnectionUp() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peer == "" {
		return nil
	}
	c.handles = nil
	c.state = StateResolving
	return c.subscribeLocked()
}

// HandleConnectionDown invalidates held handles; they died with the
// connection.
func (c *Controller) HandleConnectionDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handles = nil
	if c.peer != "" {
		c.state = StateResolving
	}
}

// Close tears down any live subscriptions.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked()
	c.state = StateNoPeer
	c.peer = ""
}

// Peer returns the active peer, empty when none.
func (c *Controller) Peer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// State returns the controller phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pair returns the resolved topic pair for the active peer.
func (c *Controller) Pair() topics.Pair {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pair
}

func (c *Controller) subscribeLocked() error {
	if c.conn.State() != transport.StateConnected {
		// Stay resolving; HandleConnectionUp retries after reconnection.
		return transport.ErrNotConnected
	}

	for _, topic := range c.pair.Topics() {
		handle, err := c.conn.Subscribe(topic, c.handler)
		if err != nil {
			c.releaseLocked()
			c.log.Warnw("subscribe failed", "topic", topic, "error", err)
			return err
		}
		c.handles = append(c.handles, handle)
	}
	c.state = StateSubscribed
	c.log.Infow("subscribed to conversation", "peer", c.peer, "primary", c.pair.Primary, "secondary", c.pair.Secondary)
	return nil
}

func (c *Controller) releaseLocked() {
	for _, h := range c.handles {
		c.conn.Unsubscribe(h)
	}
	c.handles = nil
}
