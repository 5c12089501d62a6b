package xembed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Codec is the Strategy for encoding wire envelopes and message payloads.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// JSONCodec is the default codec; surfaces speak JSON.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (JSONCodec) Name() string                    { return "json" }

// CodecFactory constructs codecs via Factory pattern.
type CodecFactory func() Codec

var (
	codecRegistryMu sync.RWMutex
	codecRegistry   = map[string]CodecFactory{
		"json": func() Codec { return JSONCodec{} },
	}
)

// RegisterCodec registers a codec factory by name.
func RegisterCodec(name string, factory CodecFactory) error {
	if name == "" {
		return errors.New("codec name must not be empty")
	}
	if factory == nil {
		return errors.New("codec factory must not be nil")
	}
	codecRegistryMu.Lock()
	codecRegistry[name] = factory
	codecRegistryMu.Unlock()
	return nil
}

// NewCodec constructs a codec by name or returns an error.
func NewCodec(name string) (Codec, error) {
	codecRegistryMu.RLock()
	f, ok := codecRegistry[name]
	codecRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("codec %q not registered", name)
	}
	return f(), nil
}

// DecodeMessage unmarshals msg.Message into T with the codec found in ctx,
// JSON otherwise. Listeners use it to read typed payloads.
func DecodeMessage[T any](ctx context.Context, msg *PostMessageEvent) (T, error) {
	var v T
	c, ok := CodecFromContext(ctx)
	if !ok {
		c = JSONCodec{}
	}
	if msg == nil || len(msg.Message) == 0 {
		return v, nil
	}
	if err := c.Unmarshal(msg.Message, &v); err != nil {
		return v, err
	}
	return v, nil
}

// DecodeResponse unmarshals the payload of a DataResponse into T. Other
// responses yield the zero value.
func DecodeResponse[T any](c Codec, r Response) (T, error) {
	var v T
	dr, ok := r.(DataResponse)
	if !ok || len(dr.Message) == 0 {
		return v, nil
	}
	if c == nil {
		c = JSONCodec{}
	}
	err := c.Unmarshal(dr.Message, &v)
	return v, err
}
