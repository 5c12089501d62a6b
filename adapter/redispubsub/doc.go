// Package redispubsub provides a Redis pub/sub host for xembed: frame pages
// are remote processes that talk to the embedding context through Redis
// channels.
//
// Host name: "redis-pubsub"
//
// Channels, for a host with id H and key prefix P:
//   - P:frame:<frameID>   messages posted to a frame page
//   - P:host:H:<frameID>  messages a frame page posts to the host window
//   - P:loaded:H          a frame page announces it has loaded (payload: frameID)
//
// Minimal config keys:
//   - addr: "host:port" (default "127.0.0.1:6379")
//   - prefix: channel prefix (default "xembed")
//   - host_id: host identity (default "xembed-<hostname>-<pid>")
//
// Example builder usage:
//
//	ec, _ := xembed.NewContextBuilder().
//	    WithHostName(redispubsub.HostName, map[string]any{
//	        "addr":    "localhost:6379",
//	        "prefix":  "embed",
//	        "host_id": "web-1",
//	    }).
//	    Build()
package redispubsub
