package console

import (
	"strings"
	"sync"
)

const (
	clearColor = Black
	clearChar  = byte(' ')
)

// Ega implements an EGA-compatible text console on an in-memory frame buffer.
// Its Write method prints a byte stream with a cursor, scrolling the screen
// up when the cursor moves past the last row.
type Ega struct {
	sync.Mutex

	width  uint16
	height uint16

	fb []uint16

	// pos is the cursor position as an offset into fb.
	pos uint16
}

// NewEga returns a cleared console with the given dimensions.
func NewEga(width, height uint16) *Ega {
	cons := &Ega{
		width:  width,
		height: height,
		fb:     make([]uint16, int(width)*int(height)),
	}
	cons.clear(0, 0, width, height)
	return cons
}

// Clear clears the specified rectangular region
func (cons *Ega) Clear(x, y, width, height uint16) {
	cons.Lock()
	cons.clear(x, y, width, height)
	cons.Unlock()
}

func (cons *Ega) clear(x, y, width, height uint16) {
	var (
		attr                 = uint16((clearColor << 4) | clearColor)
		clr                  = attr<<8 | uint16(clearChar)
		rowOffset, colOffset uint16
	)

	// clip rectangle
	if x >= cons.width {
		x = cons.width
	}
	if y >= cons.height {
		y = cons.height
	}

	if x+width > cons.width {
		width = cons.width - x
	}
	if y+height > cons.height {
		height = cons.height - y
	}

	rowOffset = (y * cons.width) + x
	for ; height > 0; height, rowOffset = height-1, rowOffset+cons.width {
		for colOffset = rowOffset; colOffset < rowOffset+width; colOffset++ {
			cons.fb[colOffset] = clr
		}
	}
}

// Dimensions returns the console width and height in characters.
func (cons *Ega) Dimensions() (uint16, uint16) {
	return cons.width, cons.height
}

// Scroll a particular number of lines to the specified direction. The
// vacated rows keep their previous contents.
func (cons *Ega) Scroll(dir ScrollDir, lines uint16) {
	cons.Lock()
	cons.scroll(dir, lines)
	cons.Unlock()
}

func (cons *Ega) scroll(dir ScrollDir, lines uint16) {
	if lines == 0 || lines > cons.height {
		return
	}

	var i uint16
	offset := lines * cons.width

	switch dir {
	case Up:
		for ; i < (cons.height-lines)*cons.width; i++ {
			cons.fb[i] = cons.fb[i+offset]
		}
	case Down:
		for i = cons.height*cons.width - 1; i >= lines*cons.width; i-- {
			cons.fb[i] = cons.fb[i-offset]
		}
	}
}

// WriteChar writes a char to the specified location.
func (cons *Ega) WriteChar(ch byte, attr Attr, x, y uint16) {
	if x >= cons.width || y >= cons.height {
		return
	}

	cons.Lock()
	cons.fb[(y*cons.width)+x] = (uint16(attr) << 8) | uint16(ch)
	cons.Unlock()
}

// Cursor returns the position where the next character will be written.
func (cons *Ega) Cursor() (uint16, uint16) {
	cons.Lock()
	defer cons.Unlock()
	return cons.pos % cons.width, cons.pos / cons.width
}

// Write prints p at the cursor. It interprets backspace, tab, carriage return
// and newline and never fails.
func (cons *Ega) Write(p []byte) (int, error) {
	cons.Lock()
	for _, ch := range p {
		cons.putc(ch)
	}
	cons.Unlock()
	return len(p), nil
}

func (cons *Ega) putc(ch byte) {
	attr := uint16(defaultAttr) << 8

	switch ch {
	case '\b':
		if cons.pos > 0 {
			cons.pos--
			cons.fb[cons.pos] = attr | uint16(clearChar)
		}
	case '\n':
		cons.pos += cons.width
		cons.pos -= cons.pos % cons.width
	case '\r':
		cons.pos -= cons.pos % cons.width
	case '\t':
		for i := 0; i < tabWidth; i++ {
			cons.putc(' ')
		}
		return
	default:
		cons.fb[cons.pos] = attr | uint16(ch)
		cons.pos++
	}

	if cons.pos >= cons.width*cons.height {
		cons.scroll(Up, 1)
		cons.clear(0, cons.height-1, cons.width, 1)
		cons.pos -= cons.width
	}
}

// String returns the screen contents, one line per row, without trailing
// blanks or empty trailing rows.
func (cons *Ega) String() string {
	cons.Lock()
	defer cons.Unlock()

	rows := make([]string, cons.height)
	line := make([]byte, cons.width)
	for y := uint16(0); y < cons.height; y++ {
		for x := uint16(0); x < cons.width; x++ {
			line[x] = byte(cons.fb[y*cons.width+x])
		}
		rows[y] = strings.TrimRight(string(line), " ")
	}

	return strings.TrimRight(strings.Join(rows, "\n"), "\n")
}
