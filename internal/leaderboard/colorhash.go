package leaderboard

import (
	"fmt"
	"math"
	"unicode/utf16"
)

// fixed HSL saturation/lightness for identity colors
const (
	colorSaturation = 0.70
	colorLightness  = 0.45
)

// Hue derives a stable hue in [0, 360) from a username. The fold runs over
// UTF-16 code units with wrapping 32-bit arithmetic so the same name yields
// the same color on every platform.
func Hue(username string) int {
	var h int32
	for _, unit := range utf16.Encode([]rune(username)) {
		h = h*31 + int32(unit)
	}
	if h < 0 {
		// abs of MinInt32 overflows; its modulus is taken on the
		// positive wrap instead.
		if h == math.MinInt32 {
			return int(int64(math.MaxInt32)+1) % 360
		}
		h = -h
	}
	return int(h % 360)
}

// ColorHex returns the identity color for a username as a fixed-notation hex
// triplet.
func ColorHex(username string) string {
	r, g, b := hslToRGB(float64(Hue(username)), colorSaturation, colorLightness)
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

// hslToRGB converts an HSL color (hue in degrees, s/l in [0,1]) to 8-bit RGB.
func hslToRGB(hue, s, l float64) (uint8, uint8, uint8) {
	c := (1 - math.Abs(2*l-1)) * s
	hp := hue / 60
	x := c * (1 - math.Abs(math.Mod(hp, 2)-1))

	var r, g, b float64
	switch {
	case hp < 1:
		r, g, b = c, x, 0
	case hp < 2:
		r, g, b = x, c, 0
	case hp < 3:
		r, g, b = 0, c, x
	case hp < 4:
		r, g, b = 0, x, c
	case hp < 5:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	m := l - c/2
	return uint8(math.Round((r + m) * 255)),
		uint8(math.Round((g + m) * 255)),
		uint8(math.Round((b + m) * 255))
}
