package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-sync/internal/api"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
	msgsync "chat-sync/internal/sync"
	"chat-sync/internal/transport"
)

func newTestSession(t *testing.T, client api.Client) (*Session, *mocks.FakeConnection) {
	t.Helper()
	log := zap.NewNop().Sugar()
	conn := mocks.NewFakeConnection()
	engine := msgsync.New(60*time.Second, log)
	sess := New(Config{
		TenantID:             "acme",
		Self:                 "me",
		RequestTimeout:       2 * time.Second,
		ReconnectBaseDelay:   10 * time.Millisecond,
		ReconnectMaxDelay:    50 * time.Millisecond,
		MaxReconnectAttempts: 5,
	}, conn, client, engine, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sess.Start(ctx, "token")
	return sess, conn
}

func waitForPeer(t *testing.T, sess *Session, peer string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sess.Snapshot().Peer == peer
	}, time.Second, 5*time.Millisecond)
}

func echoPayload(msg models.Message, id string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"sender":%q,"receiver":%q,"content":%q,"timestamp":%q,"correlation_id":%q}`,
		id, msg.Sender, msg.Receiver, msg.Content,
		msg.Timestamp.UTC().Format(time.RFC3339Nano), msg.CorrelationID,
	))
}

func TestSendOptimisticThenEchoConfirms(t *testing.T) {
	client := new(mocks.APIClientMock)
	client.On("FetchHistory", mock.Anything, "bob").Return([]models.Message{}, nil)
	client.On("SendMessage", mock.Anything, mock.Anything).Return(nil)
	client.On("FetchDailyUsage", mock.Anything).Return(models.Usage{Used: 1, Limit: 100}, nil)

	sess, conn := newTestSession(t, client)
	require.NoError(t, sess.SelectPeer("bob"))
	waitForPeer(t, sess, "bob")
	require.Eventually(t, func() bool { return len(conn.Topics()) == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, sess.Send("hi"))

	// Optimistic entry is visible before the backend answers.
	require.Eventually(t, func() bool {
		msgs := sess.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].Pending
	}, time.Second, 5*time.Millisecond)

	pending := sess.Snapshot().Messages[0]
	require.True(t, conn.Deliver("chat.acme.bob.me", echoPayload(pending, "m1")))

	// The echo replaces the optimistic entry in place, never duplicating it.
	require.Eventually(t, func() bool {
		msgs := sess.Snapshot().Messages
		return len(msgs) == 1 && !msgs[0].Pending && msgs[0].ID == "m1"
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return sess.Snapshot().Usage.Used == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, sess.Snapshot().ErrorCategory)
}

func TestSendRateLimitedRollsBackOptimistic(t *testing.T) {
	client := new(mocks.APIClientMock)
	client.On("FetchHistory", mock.Anything, "bob").Return([]models.Message{}, nil)
	client.On("SendMessage", mock.Anything, mock.Anything).
		Return(&api.SendError{Category: api.SendRateLimited, Status: 429})

	sess, _ := newTestSession(t, client)
	require.NoError(t, sess.SelectPeer("bob"))
	waitForPeer(t, sess, "bob")

	require.NoError(t, sess.Send("hi"))

	require.Eventually(t, func() bool {
		snap := sess.Snapshot()
		return snap.ErrorCategory == string(api.SendRateLimited) && len(snap.Messages) == 0
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, sess.Snapshot().ErrorMessage, "limit")
}

func TestSendWithoutPeerFails(t *testing.T) {
	client := new(mocks.APIClientMock)
	sess, _ := newTestSession(t, client)

	require.ErrorIs(t, sess.Send("hi"), ErrNoActivePeer)
	assert.NoError(t, sess.Send("   "))
	client.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestPushForOtherConversationIsIgnored(t *testing.T) {
	client := new(mocks.APIClientMock)
	client.On("FetchHistory", mock.Anything, "bob").Return([]models.Message{}, nil)

	sess, conn := newTestSession(t, client)
	require.NoError(t, sess.SelectPeer("bob"))
	waitForPeer(t, sess, "bob")
	require.Eventually(t, func() bool { return len(conn.Topics()) == 2 }, time.Second, 5*time.Millisecond)

	stray := models.Message{Sender: "carol", Receiver: "me", Content: "wrong room", Timestamp: time.Now().UTC()}
	require.True(t, conn.Deliver("chat.acme.bob.me", echoPayload(stray, "x1")))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sess.Snapshot().Messages)
}

func TestPeerSwitchDiscardsStaleHistory(t *testing.T) {
	release := make(chan struct{})
	client := new(mocks.APIClientMock)
	client.On("FetchHistory", mock.Anything, "bob").
		Run(func(mock.Arguments) { <-release }).
		Return([]models.Message{{ID: "b1", Sender: "bob", Receiver: "me", Content: "old", Timestamp: time.Now().UTC()}}, nil)
	client.On("FetchHistory", mock.Anything, "carol").
		Return([]models.Message{{ID: "c1", Sender: "carol", Receiver: "me", Content: "new", Timestamp: time.Now().UTC()}}, nil)

	sess, _ := newTestSession(t, client)
	require.NoError(t, sess.SelectPeer("bob"))
	waitForPeer(t, sess, "bob")

	require.NoError(t, sess.SelectPeer("carol"))
	require.Eventually(t, func() bool {
		msgs := sess.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].ID == "c1"
	}, time.Second, 5*time.Millisecond)

	// The delayed response for the previous peer lands now and must not
	// leak into carol's list.
	close(release)
	time.Sleep(50 * time.Millisecond)
	msgs := sess.Snapshot().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, "c1", msgs[0].ID)
}

func TestHistoryLoadFailureAndRetry(t *testing.T) {
	client := new(mocks.APIClientMock)
	client.On("FetchHistory", mock.Anything, "bob").Return(nil, assert.AnError).Once()
	client.On("FetchHistory", mock.Anything, "bob").
		Return([]models.Message{{ID: "m1", Sender: "bob", Receiver: "me", Content: "hi", Timestamp: time.Now().UTC()}}, nil)

	sess, _ := newTestSession(t, client)
	require.NoError(t, sess.SelectPeer("bob"))

	require.Eventually(t, func() bool {
		return sess.Snapshot().ErrorCategory == ErrorHistoryLoad
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, sess.RetryHistory())
	require.Eventually(t, func() bool {
		snap := sess.Snapshot()
		return snap.ErrorCategory == "" && len(snap.Messages) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestUsageRefreshFailureIsNonFatal(t *testing.T) {
	client := new(mocks.APIClientMock)
	client.On("FetchHistory", mock.Anything, "bob").Return([]models.Message{}, nil)
	client.On("SendMessage", mock.Anything, mock.Anything).Return(nil)
	client.On("FetchDailyUsage", mock.Anything).Return(models.Usage{}, assert.AnError)

	sess, _ := newTestSession(t, client)
	require.NoError(t, sess.SelectPeer("bob"))
	waitForPeer(t, sess, "bob")

	require.NoError(t, sess.Send("hi"))

	require.Eventually(t, func() bool {
		snap := sess.Snapshot()
		return !snap.Sending && len(snap.Messages) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, sess.Snapshot().ErrorCategory)
}

func TestReconnectResubscribesActivePeer(t *testing.T) {
	client := new(mocks.APIClientMock)
	client.On("FetchHistory", mock.Anything, "bob").Return([]models.Message{}, nil)

	sess, conn := newTestSession(t, client)
	require.NoError(t, sess.SelectPeer("bob"))
	waitForPeer(t, sess, "bob")
	require.Eventually(t, func() bool { return len(conn.Topics()) == 2 }, time.Second, 5*time.Millisecond)

	conn.Drop(assert.AnError)

	require.Eventually(t, func() bool {
		return sess.Snapshot().ConnectionState == transport.StateConnected && len(conn.Topics()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "bob", sess.Snapshot().Peer)
}

func TestSelectPeerInvalidInput(t *testing.T) {
	client := new(mocks.APIClientMock)
	sess, _ := newTestSession(t, client)

	// Tenant and self are valid, so only a peer equal to whitespace is
	// rejected up front as an empty teardown.
	require.NoError(t, sess.SelectPeer("  "))
	waitForPeer(t, sess, "")
	assert.Empty(t, sess.Snapshot().Messages)
}

func TestTypingDecays(t *testing.T) {
	client := new(mocks.APIClientMock)
	sess, _ := newTestSession(t, client)

	require.NoError(t, sess.SetTyping(true))
	require.Eventually(t, func() bool { return sess.Snapshot().Typing }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return !sess.Snapshot().Typing }, 3*time.Second, 20*time.Millisecond)
}
