package xembed

import (
	"encoding/json"
)

// SDKVersion is stamped on every outbound wire message.
const SDKVersion = "2.10.1"

// MessageEventName names a cross-frame message.
type MessageEventName string

const (
	EventAcknowledge              MessageEventName = "ACKNOWLEDGE"
	EventContentLoaded            MessageEventName = "CONTENT_LOADED"
	EventErrorOccurred            MessageEventName = "ERROR_OCCURRED"
	EventParametersChanged        MessageEventName = "PARAMETERS_CHANGED"
	EventSelectedSheetChanged     MessageEventName = "SELECTED_SHEET_CHANGED"
	EventSizeChanged              MessageEventName = "SIZE_CHANGED"
	EventModalOpened              MessageEventName = "MODAL_OPENED"
	EventExperienceInitialized    MessageEventName = "EXPERIENCE_INITIALIZED"
	EventPageNavigation           MessageEventName = "PAGE_NAVIGATION"
	EventCallbackOperationInvoked MessageEventName = "CALLBACK_OPERATION_INVOKED"

	EventSetParameters       MessageEventName = "SET_PARAMETERS"
	EventNavigateToDashboard MessageEventName = "NAVIGATE_TO_DASHBOARD"
	EventGetSheets           MessageEventName = "GET_SHEETS"
	EventInitiatePrint       MessageEventName = "INITIATE_PRINT"
	EventUndo                MessageEventName = "UNDO"
	EventRedo                MessageEventName = "REDO"
	EventReset               MessageEventName = "RESET"
	EventSetTheme            MessageEventName = "SET_THEME"
	EventSetQuestion         MessageEventName = "SET_QUESTION"
	EventCloseQSearch        MessageEventName = "CLOSE_Q_SEARCH"
)

var knownMessageEventNames = map[MessageEventName]struct{}{
	EventAcknowledge: {}, EventContentLoaded: {}, EventErrorOccurred: {},
	EventParametersChanged: {}, EventSelectedSheetChanged: {}, EventSizeChanged: {},
	EventModalOpened: {}, EventExperienceInitialized: {}, EventPageNavigation: {},
	EventCallbackOperationInvoked: {}, EventSetParameters: {}, EventNavigateToDashboard: {},
	EventGetSheets: {}, EventInitiatePrint: {}, EventUndo: {}, EventRedo: {}, EventReset: {},
	EventSetTheme: {}, EventSetQuestion: {}, EventCloseQSearch: {},
}

func IsKnownMessageEventName(name MessageEventName) bool {
	_, ok := knownMessageEventNames[name]
	return ok
}

// MessageEvent is the base cross-frame message shape.
type MessageEvent struct {
	EventName   MessageEventName `json:"eventName"`
	Message     json.RawMessage  `json:"message,omitempty"`
	Data        json.RawMessage  `json:"data,omitempty"`
	EventTarget *Descriptor      `json:"eventTarget,omitempty"`
}

// TargetedMessageEvent is a MessageEvent whose EventTarget is mandatory.
type TargetedMessageEvent struct {
	MessageEvent
}

func (m TargetedMessageEvent) Validate() error {
	if m.EventTarget == nil {
		return ErrMissingEventTarget
	}
	return nil
}

// PostMessageEvent is the acknowledgeable wire form.
type PostMessageEvent struct {
	TargetedMessageEvent
	EventID   string `json:"eventId"`
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version"`
}

// NewTargetedMessage builds a targeted message, encoding message with codec
// (JSON when nil). A nil message leaves the field empty.
func NewTargetedMessage(codec Codec, name MessageEventName, target Descriptor, message any) (TargetedMessageEvent, error) {
	if codec == nil {
		codec = JSONCodec{}
	}
	t := target
	msg := TargetedMessageEvent{MessageEvent: MessageEvent{EventName: name, EventTarget: &t}}
	if message != nil {
		raw, err := codec.Marshal(message)
		if err != nil {
			return msg, err
		}
		msg.Message = raw
	}
	return msg, nil
}

// Response is the outcome of a correlated Send.
type Response interface {
	IsSuccess() bool
	response()
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type ErrorResponse struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"errorCode"`
	Error     string `json:"error,omitempty"`
}

// DataResponse carries a payload instead of a yes/no outcome.
type DataResponse struct {
	Success bool            `json:"success"`
	Message json.RawMessage `json:"message"`
}

func (SuccessResponse) IsSuccess() bool { return true }
func (ErrorResponse) IsSuccess() bool   { return false }
func (DataResponse) IsSuccess() bool    { return true }
func (SuccessResponse) response()       {}
func (ErrorResponse) response()         {}
func (DataResponse) response()          {}

type replyOutcome struct {
	Success   *bool  `json:"success"`
	ErrorCode string `json:"errorCode"`
	Error     string `json:"error"`
}

// responseFromReply maps a reply's message.success onto a Response.
func responseFromReply(codec Codec, message json.RawMessage) Response {
	var out replyOutcome
	if len(message) > 0 {
		// a non-object payload is data, not an outcome
		_ = codec.Unmarshal(message, &out)
	}
	switch {
	case out.Success == nil:
		return DataResponse{Success: true, Message: message}
	case *out.Success:
		return SuccessResponse{Success: true}
	default:
		return ErrorResponse{Success: false, ErrorCode: out.ErrorCode, Error: out.Error}
	}
}

// inboundEnvelope is what the relay and correlators decode from a delivery.
// Fields stay optional so foreign traffic can be recognised and dropped.
type inboundEnvelope struct {
	EventName   MessageEventName `json:"eventName"`
	Message     json.RawMessage  `json:"message,omitempty"`
	Data        json.RawMessage  `json:"data,omitempty"`
	EventTarget *Descriptor      `json:"eventTarget,omitempty"`
	EventID     string           `json:"eventId,omitempty"`
	Timestamp   int64            `json:"timestamp,omitempty"`
	Version     string           `json:"version,omitempty"`
}

func (e inboundEnvelope) toPostMessageEvent() *PostMessageEvent {
	return &PostMessageEvent{
		TargetedMessageEvent: TargetedMessageEvent{MessageEvent: MessageEvent{
			EventName:   e.EventName,
			Message:     e.Message,
			Data:        e.Data,
			EventTarget: e.EventTarget,
		}},
		EventID:   e.EventID,
		Timestamp: e.Timestamp,
		Version:   e.Version,
	}
}
