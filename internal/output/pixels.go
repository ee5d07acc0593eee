package output

import (
	"github.com/lucasb-eyer/go-colorful"
)

// Gradient maps single-byte pixels to colours. Stops are blended in Lab space.
type Gradient struct {
	lut [256][3]uint8
}

// NewGradient builds a lookup table across the given hex colour stops.
func NewGradient(stops ...string) (*Gradient, error) {
	if len(stops) == 0 {
		stops = []string{"#000000", "#ffffff"}
	}
	colors := make([]colorful.Color, len(stops))
	for i, s := range stops {
		c, err := colorful.Hex(s)
		if err != nil {
			return nil, err
		}
		colors[i] = c
	}

	g := &Gradient{}
	for v := 0; v < 256; v++ {
		var c colorful.Color
		if len(colors) == 1 {
			c = colors[0]
		} else {
			pos := float64(v) / 255 * float64(len(colors)-1)
			i := int(pos)
			switch frac := pos - float64(i); {
			case i >= len(colors)-1:
				c = colors[len(colors)-1]
			case frac == 0:
				c = colors[i]
			default:
				c = colors[i].BlendLab(colors[i+1], frac).Clamped()
			}
		}
		r, gr, b := c.RGB255()
		g.lut[v] = [3]uint8{r, gr, b}
	}
	return g, nil
}

// At returns the colour for a byte value.
func (g *Gradient) At(v byte) (r, gr, b uint8) {
	c := g.lut[v]
	return c[0], c[1], c[2]
}

// grayscale is the default gradient for FormatByte sinks.
var grayscale, _ = NewGradient("#000000", "#ffffff")

// pixelRGB returns pixel i of frame as RGB. Byte pixels go through g, RGBA
// alpha premultiplies the colour.
func pixelRGB(frame []byte, format PixelFormat, i int, g *Gradient) (r, gr, b uint8) {
	switch format {
	case FormatRGB:
		p := frame[i*3:]
		return p[0], p[1], p[2]
	case FormatRGBA:
		p := frame[i*4:]
		a := uint16(p[3])
		return uint8(uint16(p[0]) * a / 255), uint8(uint16(p[1]) * a / 255), uint8(uint16(p[2]) * a / 255)
	default:
		if g == nil {
			g = grayscale
		}
		return g.At(frame[i])
	}
}

// scale multiplies a channel by a 0..1 brightness.
func scale(v uint8, brightness float64) uint8 {
	if brightness >= 1 {
		return v
	}
	if brightness <= 0 {
		return 0
	}
	return uint8(float64(v)*brightness + 0.5)
}
