package render

import (
	"image/color"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

var namedColors = map[string]color.RGBA{
	"black":  {0, 0, 0, 255},
	"white":  {255, 255, 255, 255},
	"red":    {255, 0, 0, 255},
	"green":  {0, 128, 0, 255},
	"blue":   {0, 0, 255, 255},
	"yellow": {255, 255, 0, 255},
	"orange": {255, 165, 0, 255},
	"purple": {128, 0, 128, 255},
	"gray":   {128, 128, 128, 255},
	"grey":   {128, 128, 128, 255},
}

// parseColor resolves a CSS-ish color string. The second return is false
// for empty, "none" and "transparent", meaning nothing should be painted.
func parseColor(s string, fallback color.RGBA) (color.RGBA, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return fallback, fallback.A != 0
	case "none", "transparent":
		return color.RGBA{}, false
	}

	if c, ok := namedColors[s]; ok {
		return c, true
	}

	if strings.HasPrefix(s, "#") && len(s) == 4 {
		// #rgb shorthand
		s = "#" + strings.Repeat(s[1:2], 2) + strings.Repeat(s[2:3], 2) + strings.Repeat(s[3:4], 2)
	}

	c, err := colorful.Hex(s)
	if err != nil {
		return fallback, fallback.A != 0
	}
	r, g, b := c.RGB255()
	return color.RGBA{r, g, b, 255}, true
}

// withOpacity applies an opacity in [0,1]; zero is treated as unset.
func withOpacity(c color.RGBA, opacity float64) color.RGBA {
	if opacity <= 0 || opacity >= 1 {
		return c
	}
	// image/color expects premultiplied alpha
	return color.RGBA{
		R: uint8(float64(c.R) * opacity),
		G: uint8(float64(c.G) * opacity),
		B: uint8(float64(c.B) * opacity),
		A: uint8(float64(c.A) * opacity),
	}
}
