package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"chatline/app/internal/models"
)

// TestStatusCanAdvance verifies the delivery state machine only moves forward.
func TestStatusCanAdvance(t *testing.T) {
	tests := []struct {
		name string
		from models.MessageStatus
		to   models.MessageStatus
		ok   bool
	}{
		{"sent to delivered", models.StatusSent, models.StatusDelivered, true},
		{"sent to read", models.StatusSent, models.StatusRead, true},
		{"delivered to read", models.StatusDelivered, models.StatusRead, true},
		{"sent to failed", models.StatusSent, models.StatusFailed, true},
		{"delivered to failed", models.StatusDelivered, models.StatusFailed, false},
		{"read to failed", models.StatusRead, models.StatusFailed, false},
		{"read to sent", models.StatusRead, models.StatusSent, false},
		{"read to delivered", models.StatusRead, models.StatusDelivered, false},
		{"delivered to sent", models.StatusDelivered, models.StatusSent, false},
		{"failed to delivered", models.StatusFailed, models.StatusDelivered, false},
		{"failed to read", models.StatusFailed, models.StatusRead, false},
		{"delivered to delivered", models.StatusDelivered, models.StatusDelivered, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanAdvance(tt.to))
		})
	}
}

func TestMessageBetween(t *testing.T) {
	msg := models.Message{ID: "1", SenderID: "u2", ReceiverID: "u1"}

	assert.True(t, msg.Between("u1", "u2"))
	assert.True(t, msg.Between("u2", "u1"))
	assert.False(t, msg.Between("u1", "u3"))
	assert.False(t, msg.Between("u3", "u2"))
}
