package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daily-challenge/internal/domain"
)

func TestDecodeRecordMessage(t *testing.T) {
	msg, err := DecodeRecordMessage([]byte(`{
		"kind": "weekly",
		"user_id": "9b2f",
		"email": "runner@example.com",
		"time": 812.25,
		"seed": "D1PWXBN9",
		"character": 4,
		"data": {"floors": 12}
	}`))
	require.NoError(t, err)

	assert.Equal(t, domain.ChallengeWeekly, msg.Kind)
	assert.Equal(t, "9b2f", msg.UserID)
	assert.Equal(t, "runner@example.com", msg.Email)
	assert.Equal(t, 812.25, msg.Time)
	assert.Equal(t, "D1PWXBN9", msg.Seed)
	require.NotNil(t, msg.Character)
	assert.Equal(t, 4, *msg.Character)
	assert.JSONEq(t, `{"floors": 12}`, string(msg.Data))
}

func TestDecodeRecordMessageRejects(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  error
	}{
		{"missing user", `{"kind":"daily","time":1,"seed":"D1PWXBN9","data":{}}`, domain.ErrMissingFields},
		{"unknown kind", `{"kind":"monthly","user_id":"u","time":1,"seed":"D1PWXBN9","data":{}}`, domain.ErrInvalidKind},
		{"missing kind", `{"user_id":"u","time":1,"seed":"D1PWXBN9","data":{}}`, domain.ErrInvalidKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRecordMessage([]byte(tt.value))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := DecodeRecordMessage([]byte(`not json`))
	assert.Error(t, err)
}
