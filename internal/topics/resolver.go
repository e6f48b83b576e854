package topics

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConversation is returned when a conversation identifier is empty.
var ErrInvalidConversation = errors.New("invalid conversation")

// Pair holds the two directional topics of a conversation. Primary carries
// messages authored by the lexicographically smaller participant so that
// both sides compute the same pair regardless of who is "me".
type Pair struct {
	Primary   string
	Secondary string
}

// Topics returns both topic names, primary first.
func (p Pair) Topics() [2]string {
	return [2]string{p.Primary, p.Secondary}
}

// Resolve derives the canonical topic pair for a conversation between two
// users within a tenant. Pure function: no network, no state.
func Resolve(tenantID, userA, userB string) (Pair, error) {
	tenantID = strings.TrimSpace(tenantID)
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if tenantID == "" || userA == "" || userB == "" {
		return Pair{}, fmt.Errorf("%w: tenant=%q userA=%q userB=%q", ErrInvalidConversation, tenantID, userA, userB)
	}

	lo, hi := userA, userB
	if lo > hi {
		lo, hi = hi, lo
	}
	return Pair{
		Primary:   topicName(tenantID, lo, hi),
		Secondary: topicName(tenantID, hi, lo),
	}, nil
}

// topicName builds the routing key for messages authored by `author` in the
// conversation with `other`.
func topicName(tenantID, author, other string) string {
	return fmt.Sprintf("chat.%s.%s.%s", tenantID, author, other)
}
