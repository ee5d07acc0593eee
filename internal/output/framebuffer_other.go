//go:build !linux

package output

// FramebufferOptions configures a Framebuffer sink.
type FramebufferOptions struct {
	ID          string
	Device      string
	Width       int
	Height      int
	PixelFormat PixelFormat
}

// Framebuffer is only available on Linux.
type Framebuffer struct{}

func OpenFramebuffer(FramebufferOptions) (*Framebuffer, error) { return nil, ErrUnsupported }

func (fb *Framebuffer) Descriptor() Descriptor    { return Descriptor{} }
func (fb *Framebuffer) Accept(frame []byte) error { return ErrUnsupported }
func (fb *Framebuffer) Close() error              { return nil }
