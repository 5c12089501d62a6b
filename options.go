package xembed

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("option"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// FrameOptions configures the frame of one experience.
type FrameOptions struct {
	URL string `option:"url" validate:"omitempty,url,startswith=https://"`
	// Container is an Element or a selector string resolved against the document.
	Container                      any           `option:"container"`
	Width                          string        `option:"width"`
	Height                         string        `option:"height"`
	ClassName                      string        `option:"className"`
	WithIframePlaceholder          bool          `option:"withIframePlaceholder"`
	ResizeHeightOnSizeChangedEvent bool          `option:"resizeHeightOnSizeChangedEvent"`
	OnChange                       ChangeHandler `option:"onChange"`
	// OnMessage runs on the host's delivery goroutine; see Listener before
	// sending from it.
	OnMessage Listener `option:"onMessage"`
	// Timeout bounds each correlated Send; zero uses the context default.
	Timeout time.Duration `option:"timeout" validate:"gte=0"`
	// Unrecognized lists keys ParseFrameOptions did not understand.
	Unrecognized []string `option:"-"`
}

var frameOptionKeys = map[string]func(*FrameOptions, any) error{
	"url":       stringOption(func(o *FrameOptions, s string) { o.URL = s }),
	"width":     stringOption(func(o *FrameOptions, s string) { o.Width = s }),
	"height":    stringOption(func(o *FrameOptions, s string) { o.Height = s }),
	"className": stringOption(func(o *FrameOptions, s string) { o.ClassName = s }),
	"container": func(o *FrameOptions, v any) error {
		o.Container = v
		return nil
	},
	"withIframePlaceholder":          boolOption(func(o *FrameOptions, b bool) { o.WithIframePlaceholder = b }),
	"resizeHeightOnSizeChangedEvent": boolOption(func(o *FrameOptions, b bool) { o.ResizeHeightOnSizeChangedEvent = b }),
	"onChange": func(o *FrameOptions, v any) error {
		switch fn := v.(type) {
		case ChangeHandler:
			o.OnChange = fn
		case func(ChangeEvent, ChangeMetadata):
			o.OnChange = fn
		default:
			return fmt.Errorf("%w: onChange must be a function", ErrInvalidFrameOptions)
		}
		return nil
	},
	"onMessage": func(o *FrameOptions, v any) error {
		switch fn := v.(type) {
		case Listener:
			o.OnMessage = fn
		case func(context.Context, *PostMessageEvent):
			o.OnMessage = fn
		default:
			return fmt.Errorf("%w: onMessage must be a listener", ErrInvalidFrameOptions)
		}
		return nil
	},
	"timeout": func(o *FrameOptions, v any) error {
		switch t := v.(type) {
		case time.Duration:
			o.Timeout = t
		case string:
			d, err := time.ParseDuration(t)
			if err != nil {
				return fmt.Errorf("%w: timeout: %v", ErrInvalidFrameOptions, err)
			}
			o.Timeout = d
		case int:
			o.Timeout = time.Duration(t) * time.Millisecond
		case float64:
			o.Timeout = time.Duration(t) * time.Millisecond
		default:
			return fmt.Errorf("%w: timeout must be a duration", ErrInvalidFrameOptions)
		}
		return nil
	},
}

func stringOption(set func(*FrameOptions, string)) func(*FrameOptions, any) error {
	return func(o *FrameOptions, v any) error {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: expected string, got %T", ErrInvalidFrameOptions, v)
		}
		set(o, s)
		return nil
	}
}

func boolOption(set func(*FrameOptions, bool)) func(*FrameOptions, any) error {
	return func(o *FrameOptions, v any) error {
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%w: expected bool, got %T", ErrInvalidFrameOptions, v)
		}
		set(o, b)
		return nil
	}
}

// ParseFrameOptions builds FrameOptions from a loosely typed map, as handed
// over by scripting hosts. Unknown keys are kept in Unrecognized rather than
// rejected; a map without any known key is invalid.
func ParseFrameOptions(m map[string]any) (FrameOptions, error) {
	var opts FrameOptions
	if len(m) == 0 {
		return opts, ErrInvalidFrameOptions
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	recognized := 0
	for _, k := range keys {
		set, ok := frameOptionKeys[k]
		if !ok {
			opts.Unrecognized = append(opts.Unrecognized, k)
			continue
		}
		recognized++
		if err := set(&opts, m[k]); err != nil {
			return opts, err
		}
	}
	if recognized == 0 {
		return opts, ErrInvalidFrameOptions
	}
	return opts, nil
}

func validateFrameOptions(o FrameOptions) error {
	if o.URL == "" && o.Container == nil && o.OnChange == nil && o.OnMessage == nil &&
		o.Width == "" && o.Height == "" && o.ClassName == "" && o.Timeout == 0 {
		return ErrInvalidFrameOptions
	}
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFrameOptions, err)
	}
	return nil
}

// ContentOptions are kind specific options forwarded to the surface.
type ContentOptions map[string]any

// transformedContent is the result of a content transformer.
type transformedContent struct {
	query        url.Values
	parameters   map[string][]string
	unrecognized []string
}

// contentTransformer maps content option names onto query parameter names.
type contentTransformer map[string]string

func (t contentTransformer) transform(opts ContentOptions) transformedContent {
	out := transformedContent{query: url.Values{}}
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := opts[k]
		if k == "parameters" {
			out.parameters = flattenParameters(v)
			continue
		}
		name, ok := t[k]
		if !ok {
			out.unrecognized = append(out.unrecognized, k)
			continue
		}
		if v == nil {
			continue
		}
		out.query.Set(name, fmt.Sprint(v))
	}
	return out
}

// flattenParameters normalises parameter values to string lists.
func flattenParameters(v any) map[string][]string {
	out := map[string][]string{}
	switch p := v.(type) {
	case map[string][]string:
		for k, vals := range p {
			out[k] = append([]string(nil), vals...)
		}
	case map[string]string:
		for k, val := range p {
			out[k] = []string{val}
		}
	case map[string]any:
		for k, val := range p {
			switch vv := val.(type) {
			case []string:
				out[k] = append([]string(nil), vv...)
			case []any:
				for _, item := range vv {
					out[k] = append(out[k], fmt.Sprint(item))
				}
			default:
				out[k] = []string{fmt.Sprint(vv)}
			}
		}
	}
	return out
}

func joinKeys(keys []string) string {
	return strings.Join(keys, ", ")
}
