// Package console implements the text-mode screen of the machine. The kernel
// console is mirrored to it the way the CGA display shows everything that
// is also sent to the serial port.
package console

// Attr defines a color attribute.
type Attr uint16

// The set of attributes that can be passed to WriteChar().
const (
	Black Attr = iota
	Blue
	Green
	Cyan
	Red
	Magenta
	Brown
	LightGrey
	Grey
	LightBlue
	LightGreen
	LightCyan
	LightRed
	LightMagenta
	LightBrown
	White
)

// ScrollDir defines a scroll direction.
type ScrollDir uint8

// The supported list of scroll directions for the console Scroll() calls.
const (
	Up ScrollDir = iota
	Down
)

const (
	// TextWidth and TextHeight are the dimensions of the CGA text mode.
	TextWidth  = 80
	TextHeight = 25

	// tabWidth is the number of blanks printed for a tab.
	tabWidth = 4

	defaultAttr = (Black << 4) | LightGrey
)
