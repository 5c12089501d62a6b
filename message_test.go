package xembed

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseFromReply(t *testing.T) {
	codec := JSONCodec{}

	assert.Equal(t, SuccessResponse{Success: true}, responseFromReply(codec, json.RawMessage(`{"success":true}`)))
	assert.Equal(t,
		ErrorResponse{Success: false, ErrorCode: "NOPE", Error: "denied"},
		responseFromReply(codec, json.RawMessage(`{"success":false,"errorCode":"NOPE","error":"denied"}`)))

	data := json.RawMessage(`{"sheets":["a"]}`)
	assert.Equal(t, DataResponse{Success: true, Message: data}, responseFromReply(codec, data))

	arr := json.RawMessage(`[1,2]`)
	assert.Equal(t, DataResponse{Success: true, Message: arr}, responseFromReply(codec, arr))
	assert.Equal(t, DataResponse{Success: true}, responseFromReply(codec, nil))
}

func TestNewTargetedMessage(t *testing.T) {
	target := Descriptor{ExperienceType: ExperienceQSearch, ContextID: "ctx"}
	msg, err := NewTargetedMessage(nil, EventSetQuestion, target, map[string]string{"question": "why"})
	require.NoError(t, err)
	require.NoError(t, msg.Validate())

	assert.Equal(t, EventSetQuestion, msg.EventName)
	assert.JSONEq(t, `{"question":"why"}`, string(msg.Message))
	assert.Equal(t, target, *msg.EventTarget)

	_, err = NewTargetedMessage(nil, EventSetQuestion, target, func() {})
	assert.Error(t, err)

	assert.ErrorIs(t, TargetedMessageEvent{}.Validate(), ErrMissingEventTarget)
}

func TestWireEnvelope(t *testing.T) {
	target := Descriptor{ExperienceType: ExperienceDashboard, DashboardID: "d", ContextID: "ctx", Discriminator: 1}
	msg, err := NewTargetedMessage(nil, EventGetSheets, target, nil)
	require.NoError(t, err)

	b, err := json.Marshal(PostMessageEvent{TargetedMessageEvent: msg, EventID: "e1", Timestamp: 42, Version: SDKVersion})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"eventName": "GET_SHEETS",
		"eventTarget": {"experienceType": "DASHBOARD", "dashboardId": "d", "contextId": "ctx", "discriminator": 1},
		"eventId": "e1",
		"timestamp": 42,
		"version": "`+SDKVersion+`"
	}`, string(b))

	var env inboundEnvelope
	require.NoError(t, json.Unmarshal(b, &env))
	pm := env.toPostMessageEvent()
	assert.Equal(t, "e1", pm.EventID)
	assert.Equal(t, target, *pm.EventTarget)
}

func TestIsKnownMessageEventName(t *testing.T) {
	assert.True(t, IsKnownMessageEventName(EventAcknowledge))
	assert.True(t, IsKnownMessageEventName(EventSizeChanged))
	assert.False(t, IsKnownMessageEventName("SOMETHING_ELSE"))
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{EventName: EventGetSheets, EventID: "e1"}
	assert.Equal(t, "GET_SHEETS timed out", err.Error())
	assert.ErrorIs(t, err, ErrTimeout)
}
