package transport_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatline/app/internal/transport"
)

func TestDecodeEventMessage(t *testing.T) {
	frame := []byte(`{"id":"3","senderId":"u2","receiverId":"u1","text":"hey","createdAt":"2025-06-01T12:00:00Z"}`)

	ev, err := transport.DecodeEvent(frame)
	require.NoError(t, err)

	msg, ok := ev.(transport.NewMessageEvent)
	require.True(t, ok)
	assert.Equal(t, "3", msg.Message.ID)
	assert.Equal(t, "u2", msg.Message.SenderID)
	assert.Equal(t, "hey", msg.Message.Text)
}

func TestDecodeEventReadReceipt(t *testing.T) {
	ev, err := transport.DecodeEvent([]byte(`{"type":"read","messageId":"42"}`))
	require.NoError(t, err)

	receipt, ok := ev.(transport.ReadReceiptEvent)
	require.True(t, ok)
	assert.Equal(t, "42", receipt.MessageID)
}

func TestDecodeEventPresence(t *testing.T) {
	ev, err := transport.DecodeEvent([]byte(`{"type":"presence","userIds":["u2","u3"]}`))
	require.NoError(t, err)

	presence, ok := ev.(transport.PresenceEvent)
	require.True(t, ok)
	assert.Equal(t, []string{"u2", "u3"}, presence.UserIDs)
}

func TestDecodeEventMalformed(t *testing.T) {
	frames := [][]byte{
		[]byte(`not json`),
		[]byte(`{"type":"read"}`),                     // receipt without messageId
		[]byte(`{"type":"typing","userId":"u2"}`),     // unrecognized type
		[]byte(`{"senderId":"u2","text":"no id"}`),    // message without id
		[]byte(`{"id":"9","text":"missing sender"}`),  // message without sender
	}

	for _, frame := range frames {
		_, err := transport.DecodeEvent(frame)
		assert.ErrorIs(t, err, transport.ErrMalformedEvent, "frame: %s", frame)
	}
}
