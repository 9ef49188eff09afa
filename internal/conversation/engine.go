package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatline/app/internal/models"
	"chatline/app/internal/transport"
)

// State is the engine-level selection state.
type State int

const (
	StateNoPeer State = iota
	StateLoading
	StateReady
)

// Transport is the subset of backend operations the engine consumes.
// Implemented by transport.Client.
type Transport interface {
	FetchHistory(ctx context.Context, peerID string) ([]models.Message, error)
	Submit(ctx context.Context, peerID string, payload transport.SendPayload) (models.Message, error)
}

// Identity supplies the authenticated user and the push stream.
// Implemented by session.Session.
type Identity interface {
	CurrentUser() *models.User
	Subscribe(fn func(transport.Event)) func()
}

// Engine is the sole owner of the active conversation: the message
// list for the selected peer, optimistic send/reconcile, and the
// push-event merge. All state mutation is serialized through one
// mutex; async completions re-enter through it and are gated by a
// selection sequence number so stale work is discarded, never merged.
type Engine struct {
	sess Identity
	api  Transport
	log  *zap.SugaredLogger

	mu       sync.Mutex
	peer     *models.User
	messages []models.Message
	loading  bool
	selSeq   uint64 // bumped by every SelectPeer; gates stale completions
	unsub    func()
	localSeq uint64 // placeholder id counter, never reused in a session

	errs chan error
}

// New builds an engine over the given session and transport.
func New(sess Identity, api Transport, log *zap.SugaredLogger) *Engine {
	return &Engine{
		sess: sess,
		api:  api,
		log:  log,
		errs: make(chan error, 16),
	}
}

// SelectPeer switches the active conversation. The previous push
// listener is removed before the collection is cleared, so no event
// for the old peer can land in the new one. With a non-nil peer it
// fetches history, installs the filtered push listener, and returns
// once the conversation is ready; a concurrent reselection makes the
// slower fetch resolve into a no-op. A fetch failure clears the
// selection, leaving the engine in the no-peer state.
func (e *Engine) SelectPeer(ctx context.Context, peer *models.User) error {
	e.mu.Lock()
	if e.unsub != nil {
		e.unsub()
		e.unsub = nil
	}
	e.messages = nil
	e.selSeq++
	seq := e.selSeq

	if peer == nil {
		e.peer = nil
		e.loading = false
		e.mu.Unlock()
		return nil
	}
	p := *peer
	e.peer = &p
	e.loading = true
	e.mu.Unlock()

	history, err := e.api.FetchHistory(ctx, p.ID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if seq != e.selSeq {
		// Selection moved on while the fetch was in flight.
		return nil
	}
	e.loading = false
	if err != nil {
		// Failed selection reverts to no-peer so the display layer can
		// key a retry off the state, not only the returned error.
		e.peer = nil
		return err
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].CreatedAt.Before(history[j].CreatedAt)
	})
	for i := range history {
		if history[i].Status == "" || history[i].Status == models.StatusSent {
			history[i].Status = models.StatusDelivered
		}
	}
	e.messages = history
	e.unsub = e.sess.Subscribe(func(ev transport.Event) {
		e.handlePush(seq, p.ID, ev)
	})
	return nil
}

// Send appends an optimistic entry and submits it in the background.
// It is a deliberate no-op when there is no identity, no selected
// peer, the conversation is still loading, or the payload is empty.
// Submit failures mark that one entry failed and land on Errors();
// nothing is retried automatically.
func (e *Engine) Send(ctx context.Context, payload transport.SendPayload) {
	user := e.sess.CurrentUser()

	e.mu.Lock()
	if user == nil || e.peer == nil || e.loading || payload.Empty() {
		e.mu.Unlock()
		return
	}

	e.localSeq++
	placeholder := fmt.Sprintf("local-%d", e.localSeq)
	e.messages = append(e.messages, models.Message{
		ID:         placeholder,
		SenderID:   user.ID,
		ReceiverID: e.peer.ID,
		Text:       payload.Text,
		Image:      payload.Image,
		CreatedAt:  time.Now().UTC(),
		Status:     models.StatusSent,
	})
	peerID := e.peer.ID
	seq := e.selSeq
	e.mu.Unlock()

	go e.reconcile(ctx, seq, peerID, placeholder, payload)
}

// reconcile resolves one placeholder against its submit outcome. Each
// in-flight send is keyed by its own placeholder id, so out-of-order
// completions cannot touch each other's entries.
func (e *Engine) reconcile(ctx context.Context, seq uint64, peerID, placeholder string, payload transport.SendPayload) {
	confirmed, err := e.api.Submit(ctx, peerID, payload)

	e.mu.Lock()
	defer e.mu.Unlock()
	if seq != e.selSeq {
		// The conversation was switched; the placeholder is gone.
		return
	}
	idx := e.indexOf(placeholder)
	if idx < 0 {
		return
	}

	if err != nil {
		e.messages[idx].Status = models.StatusFailed
		e.report(err)
		return
	}

	if dup := e.indexOf(confirmed.ID); dup >= 0 && dup != idx {
		// The confirmed record already arrived through another path;
		// drop the placeholder instead of duplicating the id.
		e.messages = append(e.messages[:idx], e.messages[idx+1:]...)
		return
	}
	confirmed.Status = models.StatusDelivered
	e.messages[idx] = confirmed
}

// handlePush merges one inbound event into the active collection.
// seq pins the event to the selection that installed the listener.
func (e *Engine) handlePush(seq uint64, peerID string, ev transport.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if seq != e.selSeq {
		return
	}

	switch ev := ev.(type) {
	case transport.NewMessageEvent:
		msg := ev.Message
		if msg.SenderID != peerID {
			return
		}
		if e.indexOf(msg.ID) >= 0 {
			// Transport-level re-delivery.
			return
		}
		msg.Status = models.StatusDelivered
		e.messages = append(e.messages, msg)

	case transport.ReadReceiptEvent:
		idx := e.indexOf(ev.MessageID)
		if idx < 0 {
			// Unknown id: scrolled out or another conversation.
			return
		}
		if e.messages[idx].Status.CanAdvance(models.StatusRead) {
			e.messages[idx].Status = models.StatusRead
		}

	default:
		// Presence and any future event kinds are not this engine's.
	}
}

// Messages returns a snapshot of the active collection in list order.
func (e *Engine) Messages() []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// Peer returns the selected peer, nil when no conversation is active.
func (e *Engine) Peer() *models.User {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.peer == nil {
		return nil
	}
	p := *e.peer
	return &p
}

// State reports the engine-level selection state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.peer == nil:
		return StateNoPeer
	case e.loading:
		return StateLoading
	default:
		return StateReady
	}
}

// Errors delivers submit failures to the display layer. Receiving is
// optional; the channel is buffered and overflow is logged and dropped.
func (e *Engine) Errors() <-chan error { return e.errs }

// Close tears the engine down: listener removed, state cleared.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unsub != nil {
		e.unsub()
		e.unsub = nil
	}
	e.selSeq++
	e.peer = nil
	e.messages = nil
	e.loading = false
}

func (e *Engine) indexOf(id string) int {
	for i := range e.messages {
		if e.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) report(err error) {
	select {
	case e.errs <- err:
	default:
		e.log.Warnw("dropping send error, nobody is listening", "error", err)
	}
}
