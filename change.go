package xembed

// ChangeEventName names a local diagnostic event delivered through OnChange.
type ChangeEventName string

const (
	ChangeFrameStarted               ChangeEventName = "FRAME_STARTED"
	ChangeFrameMounted               ChangeEventName = "FRAME_MOUNTED"
	ChangeFrameLoaded                ChangeEventName = "FRAME_LOADED"
	ChangeFrameRemoved               ChangeEventName = "FRAME_REMOVED"
	ChangeNoURL                      ChangeEventName = "NO_URL"
	ChangeNoContainer                ChangeEventName = "NO_CONTAINER"
	ChangeInvalidContainer           ChangeEventName = "INVALID_CONTAINER"
	ChangeNoBody                     ChangeEventName = "NO_BODY"
	ChangeUnrecognizedFrameOptions   ChangeEventName = "UNRECOGNIZED_FRAME_OPTIONS"
	ChangeUnrecognizedContentOptions ChangeEventName = "UNRECOGNIZED_CONTENT_OPTIONS"
	ChangeUnrecognizedEventTarget    ChangeEventName = "UNRECOGNIZED_EVENT_TARGET"
	ChangeFrameNotCreated            ChangeEventName = "FRAME_NOT_CREATED"
)

type ChangeEventLevel string

const (
	LevelInfo    ChangeEventLevel = "INFO"
	LevelWarning ChangeEventLevel = "WARN"
	LevelError   ChangeEventLevel = "ERROR"
)

// ChangeEvent is a best-effort lifecycle or warning notification. Handlers
// cannot alter behavior.
type ChangeEvent struct {
	EventName  ChangeEventName
	EventLevel ChangeEventLevel
	Message    string
	Data       map[string]any
}

type ChangeMetadata struct {
	Frame FrameHandle
}

type ChangeHandler func(e ChangeEvent, meta ChangeMetadata)
