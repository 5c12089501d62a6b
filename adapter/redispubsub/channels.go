package redispubsub

// Channel segments
const (
	segFrame  = "frame"
	segHost   = "host"
	segLoaded = "loaded"
)

// FrameChannel carries messages posted to a frame page.
func FrameChannel(prefix, frameID string) string {
	return prefix + ":" + segFrame + ":" + frameID
}

// HostChannel carries messages a frame page posts to the host window.
func HostChannel(prefix, hostID, frameID string) string {
	return hostPattern(prefix, hostID) + frameID
}

// LoadedChannel carries load announcements of the pages of a host.
func LoadedChannel(prefix, hostID string) string {
	return prefix + ":" + segLoaded + ":" + hostID
}

// hostPattern is the channel prefix of every HostChannel of a host.
func hostPattern(prefix, hostID string) string {
	return prefix + ":" + segHost + ":" + hostID + ":"
}
