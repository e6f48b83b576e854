package sync

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// Outcome describes what the engine did with a server-confirmed arrival.
type Outcome string

const (
	OutcomeAppended  Outcome = "appended"
	OutcomeReplaced  Outcome = "replaced"
	OutcomeDuplicate Outcome = "duplicate"
)

type entry struct {
	msg models.Message
	// enqueuedAt is the client-observed time the optimistic entry was
	// inserted. The confirmation match uses this rather than the message
	// timestamp so clock skew between client and server cannot break it.
	enqueuedAt time.Time
}

// Engine maintains the ordered message list for the active conversation,
// merging optimistic locally-created entries with server-confirmed pushes
// and REST-retrieved history. It is the only mutator of the sequence; all
// callers are serialized through the session loop, the lock exists so
// snapshot reads stay safe.
type Engine struct {
	mu      sync.Mutex
	entries []entry
	window  time.Duration
	now     func() time.Time
	log     *zap.SugaredLogger
}

// New builds an engine with the given optimistic-match recency window.
func New(window time.Duration, log *zap.SugaredLogger) *Engine {
	return &Engine{
		window: window,
		now:    time.Now,
		log:    log,
	}
}

// LoadHistory replaces the sequence wholesale with server-ordered history.
func (e *Engine) LoadHistory(msgs []models.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = make([]entry, 0, len(msgs))
	for _, m := range msgs {
		m.Pending = false
		m.TempID = ""
		e.entries = append(e.entries, entry{msg: m})
	}
}

// Reset clears the sequence on conversation switch.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = nil
}

// OptimisticAdd appends a pending locally-created entry. Must happen
// before the persistence call starts so the push-confirmed echo always
// finds it.
func (e *Engine) OptimisticAdd(msg models.Message) {
	msg.Pending = true
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry{msg: msg, enqueuedAt: e.now()})
}

// OptimisticFailed removes the pending entry with the given temp id. The
// temp id is discarded with it: a later push can never resurrect the
// entry.
func (e *Engine) OptimisticFailed(tempID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.entries {
		if e.entries[i].msg.Pending && e.entries[i].msg.TempID == tempID {
			e.entries = append(e.entries[:i], e.entries[i+1:]...)
			return true
		}
	}
	return false
}

// ServerMessageArrived merges one confirmed message delivered via push.
//
// Duplicate deliveries (same backend id, or same timestamp+parties+content
// when the id is absent) collapse to one entry; this covers the same push
// arriving on both directional topics and at-least-once redelivery. A
// pending optimistic entry matching the arrival is replaced in place so
// the confirmed message keeps the optimistic bubble's position.
func (e *Engine) ServerMessageArrived(msg models.Message) Outcome {
	msg.Pending = false
	msg.TempID = ""

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.findConfirmed(msg.DedupKey()) >= 0 {
		// Duplicate delivery. A speculative copy may still be sitting in
		// the list if the first delivery raced the optimistic insert;
		// clean it up before discarding.
		if i := e.findPendingMatch(msg); i >= 0 {
			e.entries = append(e.entries[:i], e.entries[i+1:]...)
		}
		observability.IncPushDelivery(string(OutcomeDuplicate))
		e.log.Debugw("duplicate push discarded", "key", msg.DedupKey())
		return OutcomeDuplicate
	}

	if i := e.findPendingMatch(msg); i >= 0 {
		// Replace in place: same list position, no visual jump.
		e.entries[i] = entry{msg: msg}
		observability.IncPushDelivery(string(OutcomeReplaced))
		return OutcomeReplaced
	}

	e.entries = append(e.entries, entry{msg: msg})
	observability.IncPushDelivery(string(OutcomeAppended))
	return OutcomeAppended
}

// findConfirmed returns the position of a confirmed entry with the given
// dedup key, or -1.
func (e *Engine) findConfirmed(key string) int {
	for i := range e.entries {
		if !e.entries[i].msg.Pending && e.entries[i].msg.DedupKey() == key {
			return i
		}
	}
	return -1
}

// findPendingMatch locates the pending optimistic counterpart of a
// confirmed arrival. A correlation id echoed by the backend matches
// exactly; otherwise the match falls back to content+parties within the
// recency window, since the optimistic client timestamp and the
// server-confirmed timestamp are never guaranteed equal.
func (e *Engine) findPendingMatch(msg models.Message) int {
	if msg.CorrelationID != "" {
		for i := range e.entries {
			if e.entries[i].msg.Pending && e.entries[i].msg.CorrelationID == msg.CorrelationID {
				return i
			}
		}
	}

	now := e.now()
	for i := range e.entries {
		ent := e.entries[i]
		if !ent.msg.Pending {
			continue
		}
		if ent.msg.Sender != msg.Sender || ent.msg.Receiver != msg.Receiver || ent.msg.Content != msg.Content {
			continue
		}
		if now.Sub(ent.enqueuedAt) <= e.window {
			return i
		}
	}
	return -1
}

// Messages returns a copy of the current ordered sequence.
func (e *Engine) Messages() []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Message, len(e.entries))
	for i := range e.entries {
		out[i] = e.entries[i].msg
	}
	return out
}

// Len returns the number of entries in the sequence.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}
