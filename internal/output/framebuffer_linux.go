//go:build linux

package output

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	fbioGetVScreenInfo = 0x4600
	fbioGetFScreenInfo = 0x4602
)

type fbBitfield struct {
	Offset   uint32
	Length   uint32
	MSBRight uint32
}

// fbVarScreenInfo mirrors struct fb_var_screeninfo from linux/fb.h.
type fbVarScreenInfo struct {
	XRes, YRes                 uint32
	XResVirtual, YResVirtual   uint32
	XOffset, YOffset           uint32
	BitsPerPixel               uint32
	Grayscale                  uint32
	Red, Green, Blue, Transp   fbBitfield
	NonStd                     uint32
	Activate                   uint32
	Height, Width              uint32
	AccelFlags                 uint32
	PixClock                   uint32
	LeftMargin, RightMargin    uint32
	UpperMargin, LowerMargin   uint32
	HSyncLen, VSyncLen         uint32
	Sync, VMode, Rotate, Space uint32
	Reserved                   [4]uint32
}

// fbFixScreenInfo mirrors struct fb_fix_screeninfo from linux/fb.h.
type fbFixScreenInfo struct {
	ID                            [16]byte
	SmemStart                     uintptr
	SmemLen                       uint32
	Type, TypeAux, Visual         uint32
	XPanStep, YPanStep, YWrapStep uint16
	LineLength                    uint32
	MMIOStart                     uintptr
	MMIOLen                       uint32
	Accel                         uint32
	Capabilities                  uint16
	Reserved                      [2]uint16
}

// rowStride is the byte distance between device rows. Drivers may pad rows,
// so line_length wins whenever the driver reports it.
func rowStride(fix fbFixScreenInfo, info fbVarScreenInfo) int {
	if fix.LineLength > 0 {
		return int(fix.LineLength)
	}
	return int(info.XResVirtual) * int(info.BitsPerPixel) / 8
}

// FramebufferOptions configures a Framebuffer sink.
type FramebufferOptions struct {
	ID          string
	Device      string // e.g. /dev/fb0
	Width       int    // region drawn from the top-left corner
	Height      int
	PixelFormat PixelFormat
}

// Framebuffer writes frames into a Linux fbdev device.
type Framebuffer struct {
	desc   Descriptor
	width  int
	height int
	file   *os.File
	info   fbVarScreenInfo
	stride int // bytes per device row
	bpp    int // bytes per device pixel

	mu  sync.Mutex
	row []byte
}

// OpenFramebuffer opens the device and reads its geometry.
func OpenFramebuffer(opts FramebufferOptions) (*Framebuffer, error) {
	dev := opts.Device
	if dev == "" {
		dev = "/dev/fb0"
	}
	f, err := os.OpenFile(dev, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open framebuffer %s: %w", dev, err)
	}

	var info fbVarScreenInfo
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), fbioGetVScreenInfo, uintptr(unsafe.Pointer(&info))); errno != 0 {
		_ = f.Close()
		return nil, fmt.Errorf("query framebuffer %s geometry: %w", dev, errno)
	}
	var fix fbFixScreenInfo
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), fbioGetFScreenInfo, uintptr(unsafe.Pointer(&fix))); errno != 0 {
		_ = f.Close()
		return nil, fmt.Errorf("query framebuffer %s layout: %w", dev, errno)
	}

	switch info.BitsPerPixel {
	case 16, 24, 32:
	default:
		_ = f.Close()
		return nil, fmt.Errorf("framebuffer %s: unsupported depth %d bpp", dev, info.BitsPerPixel)
	}
	if opts.Width > int(info.XRes) || opts.Height > int(info.YRes) {
		_ = f.Close()
		return nil, fmt.Errorf("framebuffer %s is %dx%d, smaller than %dx%d",
			dev, info.XRes, info.YRes, opts.Width, opts.Height)
	}

	bpp := int(info.BitsPerPixel) / 8
	return &Framebuffer{
		desc: Descriptor{
			ID:          opts.ID,
			ByteSize:    opts.Width * opts.Height * opts.PixelFormat.BytesPerPixel(),
			PixelFormat: opts.PixelFormat,
		},
		width:  opts.Width,
		height: opts.Height,
		file:   f,
		info:   info,
		stride: rowStride(fix, info),
		bpp:    bpp,
		row:    make([]byte, opts.Width*bpp),
	}, nil
}

func (fb *Framebuffer) Descriptor() Descriptor { return fb.desc }

func (fb *Framebuffer) Accept(frame []byte) error {
	if err := checkSize(fb.desc, frame); err != nil {
		return err
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()

	for y := 0; y < fb.height; y++ {
		for x := 0; x < fb.width; x++ {
			r, g, b := pixelRGB(frame, fb.desc.PixelFormat, y*fb.width+x, nil)
			packPixel(fb.row[x*fb.bpp:], fb.bpp, fb.info.Red, fb.info.Green, fb.info.Blue, r, g, b)
		}
		if _, err := fb.file.WriteAt(fb.row, int64(y*fb.stride)); err != nil {
			return fmt.Errorf("framebuffer write: %w", err)
		}
	}
	return nil
}

func (fb *Framebuffer) Close() error {
	return fb.file.Close()
}

// packPixel stores r, g, b in the device channel layout, little-endian.
func packPixel(dst []byte, bpp int, red, green, blue fbBitfield, r, g, b uint8) {
	v := channel(r, red) | channel(g, green) | channel(b, blue)
	for i := 0; i < bpp; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

func channel(v uint8, f fbBitfield) uint32 {
	if f.Length == 0 {
		return 0
	}
	if f.Length < 8 {
		return uint32(v>>(8-f.Length)) << f.Offset
	}
	return uint32(v) << f.Offset
}
