package devserver

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

const broadcastAll = "*"

// Client is one live push connection managed by the hub.
type Client interface {
	UserID() string
	Send() chan<- []byte
	Close()
}

// envelope routes a push frame through the redis fan-out channel so
// the target user is reached no matter which instance holds their
// connection.
type envelope struct {
	To   string          `json:"to"`
	Data json.RawMessage `json:"data"`
}

type receiptFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

type presenceFrame struct {
	Type    string   `json:"type"`
	UserIDs []string `json:"userIds"`
}

// Hub owns the set of connected push clients. All map mutation happens
// on the Run goroutine; other goroutines talk to it through channels,
// or indirectly through the redis event stream.
type Hub struct {
	store Storage
	log   *zap.SugaredLogger

	RegisterCh   chan Client
	UnregisterCh chan Client

	clients map[string]Client
	done    chan struct{}
}

// NewHub builds a hub over the given storage.
func NewHub(store Storage, log *zap.SugaredLogger) *Hub {
	return &Hub{
		store:        store,
		log:          log,
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		clients:      make(map[string]Client),
		done:         make(chan struct{}),
	}
}

// Done is closed when the dispatch loop has returned; pending
// register/unregister sends must give up on it.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Run is the hub dispatch loop. It returns when ctx is done or the
// event stream closes.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	events := h.store.SubscribeEvents(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.RegisterCh:
			// A reconnect replaces any stale connection for the user.
			if old, ok := h.clients[c.UserID()]; ok {
				old.Close()
			}
			h.clients[c.UserID()] = c
			if err := h.store.SetOnline(c.UserID()); err != nil {
				h.log.Warnw("failed to record presence", "user", c.UserID(), "error", err)
			}
			h.broadcastPresence()

		case c := <-h.UnregisterCh:
			if current, ok := h.clients[c.UserID()]; !ok || current != c {
				continue // already replaced by a newer connection
			}
			delete(h.clients, c.UserID())
			if err := h.store.SetOffline(c.UserID()); err != nil {
				h.log.Warnw("failed to clear presence", "user", c.UserID(), "error", err)
			}
			h.broadcastPresence()

		case frame, ok := <-events:
			if !ok {
				return
			}
			h.route(frame)
		}
	}
}

func (h *Hub) route(frame []byte) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		h.log.Warnw("dropping unparseable fan-out frame", "error", err)
		return
	}
	if env.To == broadcastAll {
		for id, c := range h.clients {
			h.push(id, c, env.Data)
		}
		return
	}
	if c, ok := h.clients[env.To]; ok {
		h.push(env.To, c, env.Data)
	}
}

// push hands a frame to the client's write pump; a client that cannot
// keep up is dropped rather than allowed to stall the loop.
func (h *Hub) push(userID string, c Client, data []byte) {
	select {
	case c.Send() <- data:
	default:
		h.log.Warnw("client send buffer full, dropping connection", "user", userID)
		c.Close()
		delete(h.clients, userID)
		if err := h.store.SetOffline(userID); err != nil {
			h.log.Warnw("failed to clear presence", "user", userID, "error", err)
		}
	}
}

// DeliverTo queues a push frame for one user, wherever they are
// connected.
func (h *Hub) DeliverTo(userID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	env, err := json.Marshal(envelope{To: userID, Data: data})
	if err != nil {
		return err
	}
	return h.store.PublishEvent(env)
}

// Broadcast queues a push frame for every connected user.
func (h *Hub) Broadcast(v any) error {
	return h.DeliverTo(broadcastAll, v)
}

func (h *Hub) broadcastPresence() {
	ids, err := h.store.OnlineUsers()
	if err != nil {
		h.log.Warnw("failed to read presence roster", "error", err)
		return
	}
	if err := h.Broadcast(presenceFrame{Type: "presence", UserIDs: ids}); err != nil {
		h.log.Warnw("failed to broadcast presence", "error", err)
	}
}

// MarkRead records that readerID has read messageID and routes a
// receipt back to the original sender. Unknown ids and receipts from
// anyone but the recipient are ignored.
func (h *Hub) MarkRead(readerID, messageID string) {
	rec, err := h.store.MarkMessageRead(messageID)
	if err != nil {
		h.log.Warnw("failed to mark message read", "message", messageID, "error", err)
		return
	}
	if rec == nil || rec.ReceiverID != readerID {
		return
	}
	if err := h.DeliverTo(rec.SenderID, receiptFrame{Type: "read", MessageID: messageID}); err != nil {
		h.log.Warnw("failed to route read receipt", "message", messageID, "error", err)
	}
}
