package model

// PacketSource defines the interface of a capture collaborator that feeds
// packets into the engine. Timestamps must be non-decreasing.
type PacketSource interface {
	// Packets returns the channel on which observed packets are delivered.
	// The channel is closed when the source is exhausted or closed.
	Packets() <-chan FlowPacket

	// Close releases the capture resources.
	Close() error
}

// SourceFactory opens a PacketSource bound to the named interface.
type SourceFactory func(iface string) (PacketSource, error)
