package ncnn

// Option carries per-call execution settings.
type Option struct {
	// NumThreads bounds the workers used inside one Forward call.
	NumThreads int

	// LightMode makes layers allocate scratch per Forward call instead of keeping
	// it on the layer between calls.
	LightMode bool
}

// DefaultOption runs single threaded in light mode.
func DefaultOption() Option {
	return Option{NumThreads: 1, LightMode: true}
}
