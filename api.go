package xembed

import (
	"context"
)

// Element is a node of the host document that can hold or be a frame.
type Element interface {
	ElementID() string
	// Contains reports whether other is this element or one of its descendants.
	Contains(other Element) bool
}

// Document exposes the parts of the host document the core needs.
type Document interface {
	// Body returns nil when the document has no body yet.
	Body() Element
	// QuerySelector returns nil when nothing matches.
	QuerySelector(selector string) Element
	// ObserveRemovals calls fn with the nodes removed by each mutation of the
	// body subtree until the subscription is closed.
	ObserveRemovals(fn func(removed []Element)) Subscription
}

// FrameSpec describes a frame to create.
type FrameSpec struct {
	ID              string
	Src             string
	Container       Element
	Width           string
	Height          string
	ClassName       string
	Style           string
	Loading         string
	WithPlaceholder bool
	// Payload, when set, is submitted to Src instead of a plain navigation.
	Payload map[string]string
	// OnLoad must fire exactly once when the frame document has loaded.
	OnLoad func()
}

// FrameHandle is a created frame.
type FrameHandle interface {
	ID() string
	Src() string
	Element() Element
	// PostMessage delivers payload to the frame's window if its origin
	// matches targetOrigin.
	PostMessage(ctx context.Context, payload []byte, targetOrigin string) error
	Resize(width, height string) error
	Remove() error
}

// FrameFactory creates frames inside a container.
type FrameFactory interface {
	CreateFrame(ctx context.Context, spec FrameSpec) (FrameHandle, error)
}

// Delivery is one inbound message observed on the host window.
type Delivery interface {
	// Origin is the sender origin, empty when the host cannot tell.
	Origin() string
	Payload() []byte
}

// Subscription represents an active listener that can be closed.
type Subscription interface {
	Close() error
}

// Transport is the host window's inbound message stream. Every subscriber
// sees every delivery.
type Transport interface {
	Subscribe(ctx context.Context, handler func(Delivery)) (Subscription, error)
}

// Host bundles the environment an embedding context runs in.
type Host interface {
	Document
	FrameFactory
	Transport
	Close(ctx context.Context) error
}

// IdleScheduler is an optional Host capability for deferring low priority
// work such as acknowledgments.
type IdleScheduler interface {
	ScheduleIdle(fn func())
}

// Observer receives protocol telemetry. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// API is the embedding surface offered to host applications.
type API interface {
	ContextID() string
	EmbedDashboard(ctx context.Context, frame FrameOptions, content ContentOptions) (*Experience, error)
	EmbedVisual(ctx context.Context, frame FrameOptions, content ContentOptions) (*Experience, error)
	EmbedConsole(ctx context.Context, frame FrameOptions, content ContentOptions) (*Experience, error)
	EmbedQSearchBar(ctx context.Context, frame FrameOptions, content ContentOptions) (*Experience, error)
	EmbedGenerativeQnA(ctx context.Context, frame FrameOptions, content ContentOptions) (*Experience, error)
	BuildControlOptions(ctx context.Context, experienceURL string) (*ControlOptions, error)
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
	GetMetrics() Metrics
	Health(ctx context.Context) HealthStatus
	Close(ctx context.Context) error
}

var _ API = (*EmbeddingContext)(nil)
var _ HealthChecker = (*EmbeddingContext)(nil)
