package yeelight

import (
	"fmt"
	"strconv"
)

// PowerStatus is the bulb's on/off state.
type PowerStatus int

const (
	Off PowerStatus = iota
	On
)

// Flip returns the opposite power status.
func (p PowerStatus) Flip() PowerStatus {
	if p == On {
		return Off
	}
	return On
}

// String renders the wire form used both for display and for set_power's
// first parameter.
func (p PowerStatus) String() string {
	if p == On {
		return "on"
	}
	return "off"
}

// ParsePowerStatus parses the lowercase wire form emitted in the "power"
// advertisement header and in props notifications.
func ParsePowerStatus(s string) (PowerStatus, error) {
	switch s {
	case "on":
		return On, nil
	case "off":
		return Off, nil
	default:
		return 0, &ParseFieldError{Field: "power"}
	}
}

// ColorMode identifies which of ct/rgb/hsv currently governs the bulb's
// color.
type ColorMode int

const (
	ColorModeColor            ColorMode = 1
	ColorModeColorTemperature ColorMode = 2
	ColorModeHsv              ColorMode = 3
)

// String renders a human-readable label, e.g. "(color, id=1)".
func (m ColorMode) String() string {
	switch m {
	case ColorModeColor:
		return "(color, id=1)"
	case ColorModeColorTemperature:
		return "(color_temperature, id=2)"
	case ColorModeHsv:
		return "(hsv, id=3)"
	default:
		return fmt.Sprintf("(unknown, id=%d)", int(m))
	}
}

// ParseColorMode parses the decimal "color_mode" header value.
func ParseColorMode(s string) (ColorMode, error) {
	switch s {
	case "1":
		return ColorModeColor, nil
	case "2":
		return ColorModeColorTemperature, nil
	case "3":
		return ColorModeHsv, nil
	default:
		return 0, &ParseFieldError{Field: "color_mode"}
	}
}

const maxRGB = 0xFFFFFF

// Rgb is an 8-bit red/green/blue triple. The zero value (black,
// Rgb{}) is a valid color.
type Rgb struct {
	Red, Green, Blue uint8
}

// NewRGB constructs an Rgb from its three channels.
func NewRGB(red, green, blue uint8) Rgb {
	return Rgb{Red: red, Green: green, Blue: blue}
}

// Number encodes the triple as the single decimal integer the protocol
// expects for set_rgb: 65536*R + 256*G + B.
func (c Rgb) Number() uint32 {
	return uint32(c.Red)<<16 | uint32(c.Green)<<8 | uint32(c.Blue)
}

// String renders "#rrggbb" in lowercase hex, matching the protocol's
// encoding of the same three channels (identical numeric value to Number,
// spelled out for display rather than wire use).
func (c Rgb) String() string {
	hex := uint32(c.Red)<<16 | uint32(c.Green)<<8 | uint32(c.Blue)
	return fmt.Sprintf("#%06x", hex)
}

// ParseRGB parses the decimal "rgb" header value and decomposes it into its
// three channels. Values outside [0, 0xFFFFFF], negatives, and non-integers
// all fail with ParseFieldError.
func ParseRGB(s string) (Rgb, error) {
	val, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return Rgb{}, &ParseFieldError{Field: "rgb", Err: err}
	}
	if val > maxRGB {
		return Rgb{}, &ParseFieldError{Field: "rgb"}
	}
	blue := uint8(val % 256)
	green := uint8((val / 256) % 256)
	red := uint8(val / 65536)
	return Rgb{Red: red, Green: green, Blue: blue}, nil
}

// Transition is an effect modifier applied by the bulb to a state change:
// either instantaneous (Sudden) or a smooth fade over a duration (Smooth).
type Transition struct {
	smooth   bool
	duration uint64 // milliseconds; 0 and ignored when !smooth
}

// Sudden is the instantaneous transition.
func Sudden() Transition {
	return Transition{}
}

// Smooth constructs a fade transition lasting durationMs milliseconds.
// durationMs must be at least 30; construction fails otherwise.
func Smooth(durationMs uint64) (Transition, error) {
	if durationMs < 30 {
		return Transition{}, &InvalidValueError{Field: "duration", Value: durationMs}
	}
	return Transition{smooth: true, duration: durationMs}, nil
}

// Text is the wire text for this transition: "sudden" or "smooth".
func (t Transition) Text() string {
	if t.smooth {
		return "smooth"
	}
	return "sudden"
}

// Value is the wire duration in milliseconds (0 for Sudden; the device
// ignores it in that case).
func (t Transition) Value() uint64 {
	return t.duration
}
