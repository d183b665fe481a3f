package participant

import (
	"math"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
)

const (
	// hue step in turns; consecutive colors never land next to each other
	hueStep = 0.618033988749895
	// minimum Lab distance from the white canvas so marks stay readable
	minContrast = 0.35
)

var canvasWhite = colorful.Color{R: 1, G: 1, B: 1}

// Palette assigns each participant of a room its own marker color.
type Palette struct {
	next int
	mu   sync.Mutex
}

func NewPalette() *Palette {
	return &Palette{}
}

// Next: returns the color for the next participant to join
func (p *Palette) Next() string {
	p.mu.Lock()
	i := p.next
	p.next++
	p.mu.Unlock()

	return ColorAt(i)
}

// ColorAt: returns the i-th palette color as hex, darkened until it reads on white
func ColorAt(i int) string {
	_, hue := math.Modf(float64(i) * hueStep)

	lightness := 0.55
	c := colorful.Hsl(hue*360, 0.85, lightness)
	for c.DistanceLab(canvasWhite) < minContrast && lightness > 0.25 {
		lightness -= 0.05
		c = colorful.Hsl(hue*360, 0.85, lightness)
	}
	return c.Clamped().Hex()
}
