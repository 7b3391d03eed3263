package events

import (
	"encoding/json"
	"testing"

	"crewlink/internal/domain"
	"crewlink/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndDecode(t *testing.T) {
	env, err := New(KindSendMessage, "b1", "c1", SendMessagePayload{
		Type:    models.MessageText,
		Content: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, KindSendMessage, env.Kind)
	assert.Equal(t, "b1", env.BookingID)
	assert.Equal(t, "c1", env.SenderID)
	assert.False(t, env.Timestamp.IsZero())

	var p SendMessagePayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, "hello", p.Content)
	assert.Equal(t, models.MessageText, p.Type)
}

func TestDecode_MissingPayload(t *testing.T) {
	env, err := New(KindTypingStart, "b1", "c1", nil)
	require.NoError(t, err)

	var p TypingPayload
	assert.ErrorIs(t, env.Decode(&p), domain.ErrValidation)
}

func TestDecode_MalformedPayload(t *testing.T) {
	env := Envelope{Kind: KindSendMessage, Payload: json.RawMessage(`{"content":`)}

	var p SendMessagePayload
	assert.ErrorIs(t, env.Decode(&p), domain.ErrValidation)
}

func TestEnvelope_WireRoundTrip(t *testing.T) {
	env := MustNew(KindStatusChange, "b1", "w1", StatusChangePayload{
		Status: models.StatusConfirmed,
		Reason: "on site",
	})

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, KindStatusChange, decoded.Kind)
	assert.Equal(t, "b1", decoded.BookingID)

	var p StatusChangePayload
	require.NoError(t, decoded.Decode(&p))
	assert.Equal(t, models.StatusConfirmed, p.Status)
	assert.Equal(t, "on site", p.Reason)
}

func TestNewError_CarriesWireCode(t *testing.T) {
	env := NewError(domain.ErrAccessDenied)
	assert.Equal(t, KindError, env.Kind)

	var p ErrorPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, "access_denied", p.Code)
	assert.NotEmpty(t, p.Message)
}
