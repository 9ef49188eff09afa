package devserver

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatline/app/internal/models"
)

// memStorage is an in-memory Storage with a loopback event stream, so
// hub tests run without postgres or redis.
type memStorage struct {
	mu       sync.Mutex
	online   map[string]bool
	messages map[string]*MessageRecord
	events   chan []byte
}

func newMemStorage() *memStorage {
	return &memStorage{
		online:   make(map[string]bool),
		messages: make(map[string]*MessageRecord),
		events:   make(chan []byte, 64),
	}
}

func (m *memStorage) CreateAccount(acc *Account) error                   { return nil }
func (m *memStorage) FindAccountByEmail(string) (*Account, error)        { return nil, nil }
func (m *memStorage) FindAccountByID(string) (*Account, error)           { return nil, nil }
func (m *memStorage) ListFriends(string) ([]Account, error)              { return nil, nil }
func (m *memStorage) CreateFriendRequest(string, string) error           { return nil }
func (m *memStorage) ListFriendRequests(string) ([]FriendRequest, error) { return nil, nil }
func (m *memStorage) ResolveFriendRequest(string, string, bool) error    { return nil }
func (m *memStorage) GetConversation(string, string) ([]MessageRecord, error) {
	return nil, nil
}

func (m *memStorage) SaveMessage(rec *MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[rec.ID] = rec
	return nil
}

func (m *memStorage) MarkMessageRead(messageID string) (*MessageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.messages[messageID]
	if !ok {
		return nil, nil
	}
	rec.Status = models.StatusRead
	cp := *rec
	return &cp, nil
}

func (m *memStorage) SetOnline(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online[userID] = true
	return nil
}

func (m *memStorage) SetOffline(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.online, userID)
	return nil
}

func (m *memStorage) OnlineUsers() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.online))
	for id := range m.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memStorage) PublishEvent(frame []byte) error {
	m.events <- frame
	return nil
}

func (m *memStorage) SubscribeEvents(ctx context.Context) <-chan []byte {
	return m.events
}

// fakeClient records everything pushed to it.
type fakeClient struct {
	userID string
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeClient(userID string) *fakeClient {
	return &fakeClient{
		userID: userID,
		send:   make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeClient) UserID() string      { return c.userID }
func (c *fakeClient) Send() chan<- []byte { return c.send }
func (c *fakeClient) Close()              { c.once.Do(func() { close(c.closed) }) }

func (c *fakeClient) next(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-c.send:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for push frame")
		return nil
	}
}

func startHub(t *testing.T) (*Hub, *memStorage) {
	t.Helper()
	store := newMemStorage()
	hub := NewHub(store, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub, store
}

func register(t *testing.T, hub *Hub, c Client) {
	t.Helper()
	select {
	case hub.RegisterCh <- c:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out registering client")
	}
}

func TestHubRegisterBroadcastsPresence(t *testing.T) {
	hub, _ := startHub(t)

	alice := newFakeClient("u1")
	register(t, hub, alice)

	var frame presenceFrame
	require.NoError(t, json.Unmarshal(alice.next(t), &frame))
	assert.Equal(t, "presence", frame.Type)
	assert.Equal(t, []string{"u1"}, frame.UserIDs)

	bob := newFakeClient("u2")
	register(t, hub, bob)

	require.NoError(t, json.Unmarshal(alice.next(t), &frame))
	assert.Equal(t, []string{"u1", "u2"}, frame.UserIDs)
}

func TestHubUnregisterBroadcastsPresence(t *testing.T) {
	hub, _ := startHub(t)

	alice := newFakeClient("u1")
	bob := newFakeClient("u2")
	register(t, hub, alice)
	register(t, hub, bob)
	alice.next(t) // presence after alice joins
	alice.next(t) // presence after bob joins

	select {
	case hub.UnregisterCh <- bob:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out unregistering client")
	}

	var frame presenceFrame
	require.NoError(t, json.Unmarshal(alice.next(t), &frame))
	assert.Equal(t, []string{"u1"}, frame.UserIDs)
}

func TestHubDeliverToRoutesToTargetOnly(t *testing.T) {
	hub, _ := startHub(t)

	alice := newFakeClient("u1")
	bob := newFakeClient("u2")
	register(t, hub, alice)
	register(t, hub, bob)
	alice.next(t)
	alice.next(t)
	bob.next(t)

	msg := models.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2", Text: "hi"}
	require.NoError(t, hub.DeliverTo("u2", msg))

	var got models.Message
	require.NoError(t, json.Unmarshal(bob.next(t), &got))
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "hi", got.Text)

	select {
	case data := <-alice.send:
		t.Fatalf("unexpected frame for alice: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubReplacesStaleConnection(t *testing.T) {
	hub, _ := startHub(t)

	first := newFakeClient("u1")
	second := newFakeClient("u1")
	register(t, hub, first)
	first.next(t)

	register(t, hub, second)

	select {
	case <-first.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("stale connection was not closed")
	}

	require.NoError(t, hub.DeliverTo("u1", receiptFrame{Type: "read", MessageID: "m9"}))
	var frame receiptFrame
	require.NoError(t, json.Unmarshal(second.next(t), &frame))
	assert.Equal(t, "m9", frame.MessageID)
}

func TestHubMarkReadRoutesReceiptToSender(t *testing.T) {
	hub, store := startHub(t)

	require.NoError(t, store.SaveMessage(&MessageRecord{
		ID:         "m1",
		SenderID:   "u1",
		ReceiverID: "u2",
		Text:       "hello",
		Status:     models.StatusDelivered,
	}))

	alice := newFakeClient("u1")
	register(t, hub, alice)
	alice.next(t)

	hub.MarkRead("u2", "m1")

	var frame receiptFrame
	require.NoError(t, json.Unmarshal(alice.next(t), &frame))
	assert.Equal(t, "read", frame.Type)
	assert.Equal(t, "m1", frame.MessageID)

	rec, err := store.MarkMessageRead("m1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, rec.Status)
}

// A pump tearing down after the dispatch loop has exited must not
// block on the unregister channel forever.
func TestHubShutdownUnblocksUnregister(t *testing.T) {
	store := newMemStorage()
	hub := NewHub(store, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	c := newFakeClient("u1")
	register(t, hub, c)

	cancel()
	select {
	case <-hub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not signal shutdown")
	}

	released := make(chan struct{})
	go func() {
		select {
		case hub.UnregisterCh <- c:
		case <-hub.Done():
		}
		close(released)
	}()
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("unregister blocked after shutdown")
	}
}

func TestHubMarkReadIgnoresWrongReader(t *testing.T) {
	hub, store := startHub(t)

	require.NoError(t, store.SaveMessage(&MessageRecord{
		ID:         "m1",
		SenderID:   "u1",
		ReceiverID: "u2",
		Status:     models.StatusDelivered,
	}))

	alice := newFakeClient("u1")
	register(t, hub, alice)
	alice.next(t)

	// u3 is not the recipient; no receipt should reach the sender.
	hub.MarkRead("u3", "m1")
	hub.MarkRead("u2", "unknown")

	select {
	case data := <-alice.send:
		t.Fatalf("unexpected frame: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}
