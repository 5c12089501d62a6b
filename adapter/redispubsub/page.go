package redispubsub

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Page is the embedded side of a frame: a process that receives what the
// host posts to the frame and posts back to the host window. Relay services
// and tests use it to stand in for the page loaded in the frame.
type Page struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	prefix  string
	hostID  string
	frameID string
}

// NewPage subscribes to the frame channel of frameID on the host hostID.
func NewPage(ctx context.Context, client *redis.Client, prefix, hostID, frameID string) (*Page, error) {
	ps := client.Subscribe(ctx, FrameChannel(prefix, frameID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	return &Page{client: client, pubsub: ps, prefix: prefix, hostID: hostID, frameID: frameID}, nil
}

// Announce tells the host the page has loaded.
func (p *Page) Announce(ctx context.Context) error {
	return p.client.Publish(ctx, LoadedChannel(p.prefix, p.hostID), p.frameID).Err()
}

// Post sends payload to the host window.
func (p *Page) Post(ctx context.Context, payload []byte) error {
	return p.client.Publish(ctx, HostChannel(p.prefix, p.hostID, p.frameID), payload).Err()
}

// Messages streams what the host posts to the frame.
func (p *Page) Messages() <-chan *redis.Message { return p.pubsub.Channel() }

func (p *Page) Close() error { return p.pubsub.Close() }
