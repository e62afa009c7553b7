package flamegraph

import "image/color"

// ColorScheme controls the colors of a flame graph. Rectangles are filled
// with a gradient of Count colors from Start towards End.
type ColorScheme struct {
	Name  string
	Start color.RGBA
	End   color.RGBA
	Count int
	// Good marks call paths that take a smaller share of their parent's
	// time than in the previous capture, Bad a larger one.
	Good color.RGBA
	Bad  color.RGBA
}

var (
	white       = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	neutralGray = color.RGBA{R: 128, G: 128, B: 128, A: 255}

	DefaultScheme = ColorScheme{
		Name:  "default",
		Start: color.RGBA{R: 178, A: 255},
		End:   color.RGBA{R: 255, G: 255, A: 255},
		Count: 4,
		Good:  color.RGBA{G: 255, A: 255},
		Bad:   color.RGBA{R: 255, A: 255},
	}

	CompareScheme = ColorScheme{
		Name:  "default (compare)",
		Start: color.RGBA{B: 120, A: 255},
		End:   color.RGBA{B: 230, A: 255},
		Count: 4,
		Good:  color.RGBA{G: 255, A: 255},
		Bad:   color.RGBA{R: 255, A: 255},
	}
)

// Gradient returns Count colors stepping from Start towards End. End itself
// is never reached.
func (s ColorScheme) Gradient() []color.RGBA {
	n := s.Count
	if n < 1 {
		n = 1
	}
	step := func(from, to uint8) float64 {
		return (float64(to) - float64(from)) / float64(n)
	}
	dr, dg, db := step(s.Start.R, s.End.R), step(s.Start.G, s.End.G), step(s.Start.B, s.End.B)
	gradient := make([]color.RGBA, n)
	for i := range gradient {
		gradient[i] = color.RGBA{
			R: channel(float64(s.Start.R) + dr*float64(i)),
			G: channel(float64(s.Start.G) + dg*float64(i)),
			B: channel(float64(s.Start.B) + db*float64(i)),
			A: 255,
		}
	}
	return gradient
}

func channel(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}

// bounce maps an ever increasing counter onto 0, 1, ..., n-1, n-2, ..., 1,
// 0, 1, ... so that neighbouring rectangles get neighbouring colors.
func bounce(counter, n int) int {
	if n <= 1 {
		return 0
	}
	period := 2 * (n - 1)
	m := counter % period
	if m >= n {
		return period - m
	}
	return m
}
