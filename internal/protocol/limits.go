package protocol

// Limits constrains decode memory use. Values are read-only once a
// server starts accepting connections.
type Limits struct {
	// MaxFrameBytes bounds any single length field (json payload, field
	// key/value, compressed payload) and a whole field frame.
	MaxFrameBytes uint32
	// MaxWindowSize bounds the declared batch size.
	MaxWindowSize uint32
	// MaxInflateBytes bounds the inflated size of one compressed frame.
	MaxInflateBytes int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes:   10 * 1024 * 1024,
		MaxWindowSize:   64 * 1024,
		MaxInflateBytes: 64 * 1024 * 1024,
	}
}

// WithDefaults fills zero values from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	def := DefaultLimits()
	if l.MaxFrameBytes == 0 {
		l.MaxFrameBytes = def.MaxFrameBytes
	}
	if l.MaxWindowSize == 0 {
		l.MaxWindowSize = def.MaxWindowSize
	}
	if l.MaxInflateBytes <= 0 {
		l.MaxInflateBytes = def.MaxInflateBytes
	}
	return l
}
