package xembed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrameOptions(t *testing.T) {
	var changes int
	opts, err := ParseFrameOptions(map[string]any{
		"url":                            "https://h/embed/g/dashboards/d",
		"container":                      "#root",
		"width":                          "800px",
		"resizeHeightOnSizeChangedEvent": true,
		"timeout":                        "250ms",
		"onChange":                       func(ChangeEvent, ChangeMetadata) { changes++ },
		"onMessage":                      func(context.Context, *PostMessageEvent) {},
		"zeta":                           1,
		"alpha":                          2,
	})
	require.NoError(t, err)

	assert.Equal(t, "https://h/embed/g/dashboards/d", opts.URL)
	assert.Equal(t, "#root", opts.Container)
	assert.Equal(t, "800px", opts.Width)
	assert.True(t, opts.ResizeHeightOnSizeChangedEvent)
	assert.Equal(t, 250*time.Millisecond, opts.Timeout)
	assert.NotNil(t, opts.OnMessage)
	assert.Equal(t, []string{"alpha", "zeta"}, opts.Unrecognized)

	opts.OnChange(ChangeEvent{}, ChangeMetadata{})
	assert.Equal(t, 1, changes)
}

func TestParseFrameOptionsRejects(t *testing.T) {
	_, err := ParseFrameOptions(nil)
	assert.ErrorIs(t, err, ErrInvalidFrameOptions)

	_, err = ParseFrameOptions(map[string]any{"unknown": 1})
	assert.ErrorIs(t, err, ErrInvalidFrameOptions)

	_, err = ParseFrameOptions(map[string]any{"width": 10})
	assert.ErrorIs(t, err, ErrInvalidFrameOptions)

	_, err = ParseFrameOptions(map[string]any{"onChange": "nope"})
	assert.ErrorIs(t, err, ErrInvalidFrameOptions)

	_, err = ParseFrameOptions(map[string]any{"timeout": "soon"})
	assert.ErrorIs(t, err, ErrInvalidFrameOptions)
}

func TestValidateFrameOptions(t *testing.T) {
	assert.ErrorIs(t, validateFrameOptions(FrameOptions{}), ErrInvalidFrameOptions)
	assert.ErrorIs(t, validateFrameOptions(FrameOptions{URL: "not a url"}), ErrInvalidFrameOptions)
	assert.ErrorIs(t, validateFrameOptions(FrameOptions{URL: "https://h/x", Timeout: -time.Second}), ErrInvalidFrameOptions)
	assert.NoError(t, validateFrameOptions(FrameOptions{URL: "https://h/embed/g/console"}))
	assert.NoError(t, validateFrameOptions(FrameOptions{Container: "#root"}))
}

func TestContentTransformer(t *testing.T) {
	tr := contentTransformer{"locale": "locale", "hideIcon": "qBarIconDisabled"}
	out := tr.transform(ContentOptions{
		"locale":     "fr-FR",
		"hideIcon":   true,
		"mystery":    "x",
		"parameters": map[string]string{"region": "eu"},
	})

	assert.Equal(t, "fr-FR", out.query.Get("locale"))
	assert.Equal(t, "true", out.query.Get("qBarIconDisabled"))
	assert.Equal(t, []string{"mystery"}, out.unrecognized)
	assert.Equal(t, map[string][]string{"region": {"eu"}}, out.parameters)
}

func TestFlattenParameters(t *testing.T) {
	assert.Equal(t, map[string][]string{"a": {"1", "2"}, "b": {"3"}}, flattenParameters(map[string]any{
		"a": []any{1, "2"},
		"b": 3,
	}))
	assert.Equal(t, map[string][]string{"a": {"x"}}, flattenParameters(map[string][]string{"a": {"x"}}))
	assert.Empty(t, flattenParameters("nonsense"))
}
