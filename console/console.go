// https://github.com/riscv-virt/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package console implements a framebuffer text console: an 8x16 glyph
// cell grid rendered into the GPU's raw pixel buffer, a coalesced dirty
// rectangle flushed to the device once per logical frame, and the
// three-pane layout (explorer/navigator/console) a caller renders menus
// into (SPEC_FULL.md §5.6).
//
// Grounded on original_source/source/fb_console.c (cell grid, glyph
// rendering, dirty-rectangle tracking) and defs.c's layout_init (the
// explorer/navigator/console rectangle arithmetic).
package console

// Glyph cell geometry (spec.md §4.6): every character occupies an 8x16
// pixel cell; the 6x7 glyph bitmap is centered inside it.
const (
	glyphW = 8
	glyphH = 16

	glyphXOffset = 1
	glyphYOffset = 4

	bytesPerPixel = 4

	minCols = 40
	minRows = 15
)

// vga16XRGB is the fixed 16-entry XRGB8888 VGA palette colours are
// resolved against (fb_console.c's _vga16_xrgb).
var vga16XRGB = [16]uint32{
	0x00000000, // black
	0x000000AA, // blue
	0x0000AA00, // green
	0x0000AAAA, // cyan
	0x00AA0000, // red
	0x00AA00AA, // magenta
	0x00AA5500, // brown
	0x00AAAAAA, // light grey
	0x00555555, // dark grey
	0x005555FF, // light blue
	0x0055FF55, // light green
	0x0055FFFF, // light cyan
	0x00FF5555, // light red
	0x00FF55FF, // light magenta
	0x00FFFF55, // light brown
	0x00FFFFFF, // white
}

func fgFromColor(color uint8) uint32 { return vga16XRGB[color&0x0f] }
func bgFromColor(color uint8) uint32 { return vga16XRGB[(color>>4)&0x0f] }

// glyphs5x7 holds the 6-bit-wide, 7-row bitmap for every printable
// character this console renders directly (fb_console.c's
// _glyphs_5x7, transcribed 1:1). Rows are packed MSB-first in bits
// [5..0].
var glyphs5x7 = map[byte][7]uint8{
	'0': {0x1E, 0x21, 0x23, 0x25, 0x29, 0x31, 0x1E},
	'1': {0x04, 0x0C, 0x04, 0x04, 0x04, 0x04, 0x0E},
	'2': {0x1E, 0x21, 0x01, 0x06, 0x18, 0x20, 0x3F},
	'3': {0x1E, 0x21, 0x01, 0x0E, 0x01, 0x21, 0x1E},
	'4': {0x02, 0x06, 0x0A, 0x12, 0x3F, 0x02, 0x02},
	'5': {0x3F, 0x20, 0x3E, 0x01, 0x01, 0x21, 0x1E},
	'6': {0x0E, 0x10, 0x20, 0x3E, 0x21, 0x21, 0x1E},
	'7': {0x3F, 0x01, 0x02, 0x04, 0x08, 0x10, 0x10},
	'8': {0x1E, 0x21, 0x21, 0x1E, 0x21, 0x21, 0x1E},
	'9': {0x1E, 0x21, 0x21, 0x1F, 0x01, 0x02, 0x1C},

	'A': {0x0E, 0x11, 0x21, 0x21, 0x3F, 0x21, 0x21},
	'B': {0x3E, 0x21, 0x21, 0x3E, 0x21, 0x21, 0x3E},
	'C': {0x1E, 0x21, 0x20, 0x20, 0x20, 0x21, 0x1E},
	'D': {0x3C, 0x22, 0x21, 0x21, 0x21, 0x22, 0x3C},
	'E': {0x3F, 0x20, 0x20, 0x3E, 0x20, 0x20, 0x3F},
	'F': {0x3F, 0x20, 0x20, 0x3E, 0x20, 0x20, 0x20},
	'G': {0x1E, 0x21, 0x20, 0x27, 0x21, 0x21, 0x1E},
	'H': {0x21, 0x21, 0x21, 0x3F, 0x21, 0x21, 0x21},
	'I': {0x0E, 0x04, 0x04, 0x04, 0x04, 0x04, 0x0E},
	'J': {0x07, 0x02, 0x02, 0x02, 0x22, 0x22, 0x1C},
	'K': {0x21, 0x22, 0x24, 0x38, 0x24, 0x22, 0x21},
	'L': {0x20, 0x20, 0x20, 0x20, 0x20, 0x20, 0x3F},
	'M': {0x21, 0x33, 0x2D, 0x21, 0x21, 0x21, 0x21},
	'N': {0x21, 0x31, 0x29, 0x25, 0x23, 0x21, 0x21},
	'O': {0x1E, 0x21, 0x21, 0x21, 0x21, 0x21, 0x1E},
	'P': {0x3E, 0x21, 0x21, 0x3E, 0x20, 0x20, 0x20},
	'Q': {0x1E, 0x21, 0x21, 0x21, 0x25, 0x22, 0x1D},
	'R': {0x3E, 0x21, 0x21, 0x3E, 0x24, 0x22, 0x21},
	'S': {0x1F, 0x20, 0x20, 0x1E, 0x01, 0x01, 0x3E},
	'T': {0x3F, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04},
	'U': {0x21, 0x21, 0x21, 0x21, 0x21, 0x21, 0x1E},
	'V': {0x21, 0x21, 0x21, 0x21, 0x21, 0x12, 0x0C},
	'W': {0x21, 0x21, 0x21, 0x21, 0x2D, 0x33, 0x21},
	'X': {0x21, 0x12, 0x0C, 0x0C, 0x0C, 0x12, 0x21},
	'Y': {0x21, 0x12, 0x0C, 0x04, 0x04, 0x04, 0x04},
	'Z': {0x3F, 0x01, 0x02, 0x04, 0x08, 0x10, 0x3F},

	'a': {0x00, 0x00, 0x1C, 0x02, 0x1E, 0x22, 0x1E},
	'b': {0x20, 0x20, 0x3C, 0x22, 0x22, 0x22, 0x3C},
	'c': {0x00, 0x00, 0x1C, 0x20, 0x20, 0x20, 0x1C},
	'd': {0x02, 0x02, 0x1E, 0x22, 0x22, 0x22, 0x1E},
	'e': {0x00, 0x00, 0x1C, 0x22, 0x3E, 0x20, 0x1C},
	'f': {0x0C, 0x10, 0x3C, 0x10, 0x10, 0x10, 0x10},
	'g': {0x00, 0x00, 0x1E, 0x22, 0x1E, 0x02, 0x1C},
	'h': {0x20, 0x20, 0x3C, 0x22, 0x22, 0x22, 0x22},
	'i': {0x08, 0x00, 0x18, 0x08, 0x08, 0x08, 0x1C},
	'j': {0x04, 0x00, 0x0C, 0x04, 0x04, 0x24, 0x18},
	'k': {0x20, 0x24, 0x28, 0x30, 0x28, 0x24, 0x22},
	'l': {0x18, 0x08, 0x08, 0x08, 0x08, 0x08, 0x1C},
	'm': {0x00, 0x00, 0x34, 0x2A, 0x2A, 0x2A, 0x2A},
	'n': {0x00, 0x00, 0x3C, 0x22, 0x22, 0x22, 0x22},
	'o': {0x00, 0x00, 0x1C, 0x22, 0x22, 0x22, 0x1C},
	'p': {0x00, 0x00, 0x3C, 0x22, 0x3C, 0x20, 0x20},
	'q': {0x00, 0x00, 0x1E, 0x22, 0x1E, 0x02, 0x02},
	'r': {0x00, 0x00, 0x2C, 0x30, 0x20, 0x20, 0x20},
	's': {0x00, 0x00, 0x1E, 0x20, 0x1C, 0x02, 0x3C},
	't': {0x10, 0x3C, 0x10, 0x10, 0x10, 0x10, 0x0C},
	'u': {0x00, 0x00, 0x22, 0x22, 0x22, 0x26, 0x1A},
	'v': {0x00, 0x00, 0x22, 0x22, 0x14, 0x14, 0x08},
	'w': {0x00, 0x00, 0x22, 0x2A, 0x2A, 0x2A, 0x14},
	'x': {0x00, 0x00, 0x22, 0x14, 0x08, 0x14, 0x22},
	'y': {0x00, 0x00, 0x22, 0x22, 0x1E, 0x02, 0x1C},
	'z': {0x00, 0x00, 0x3E, 0x04, 0x08, 0x10, 0x3E},

	'-':  {0x00, 0x00, 0x00, 0x1F, 0x00, 0x00, 0x00},
	'.':  {0x00, 0x00, 0x00, 0x00, 0x00, 0x0C, 0x0C},
	'!':  {0x04, 0x04, 0x04, 0x04, 0x04, 0x00, 0x04},
	':':  {0x00, 0x0C, 0x0C, 0x00, 0x0C, 0x0C, 0x00},
	';':  {0x00, 0x18, 0x18, 0x00, 0x18, 0x18, 0x10},
	'(':  {0x02, 0x04, 0x08, 0x08, 0x08, 0x04, 0x02},
	')':  {0x08, 0x04, 0x02, 0x02, 0x02, 0x04, 0x08},
	'/':  {0x01, 0x02, 0x04, 0x08, 0x10, 0x20, 0x00},
	'\\': {0x20, 0x10, 0x08, 0x04, 0x02, 0x00, 0x00},
	',':  {0x00, 0x00, 0x00, 0x00, 0x0C, 0x0C, 0x08},
	'\'': {0x04, 0x04, 0x02, 0x00, 0x00, 0x00, 0x00},
	'"':  {0x0A, 0x0A, 0x04, 0x00, 0x00, 0x00, 0x00},
	'?':  {0x1E, 0x21, 0x01, 0x06, 0x04, 0x00, 0x04},
	'<':  {0x04, 0x08, 0x10, 0x20, 0x10, 0x08, 0x04},
	'>':  {0x10, 0x08, 0x04, 0x02, 0x04, 0x08, 0x10},
	'[':  {0x3C, 0x20, 0x20, 0x20, 0x20, 0x20, 0x3C},
	']':  {0x3C, 0x04, 0x04, 0x04, 0x04, 0x04, 0x3C},
	'{':  {0x1C, 0x10, 0x10, 0x20, 0x10, 0x10, 0x1C},
	'}':  {0x38, 0x08, 0x08, 0x04, 0x08, 0x08, 0x38},
	'+':  {0x00, 0x08, 0x08, 0x3E, 0x08, 0x08, 0x00},
	'=':  {0x00, 0x00, 0x3E, 0x00, 0x3E, 0x00, 0x00},
	'_':  {0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x3E},
	'@':  {0x1C, 0x22, 0x2E, 0x2A, 0x2E, 0x20, 0x1C},
	'#':  {0x14, 0x3E, 0x14, 0x14, 0x3E, 0x14, 0x00},
	'$':  {0x08, 0x1E, 0x28, 0x1C, 0x0A, 0x3C, 0x08},
	'%':  {0x32, 0x32, 0x04, 0x08, 0x10, 0x26, 0x26},
	'&':  {0x18, 0x24, 0x28, 0x10, 0x2A, 0x24, 0x1A},
	'*':  {0x00, 0x14, 0x08, 0x3E, 0x08, 0x14, 0x00},
	'|':  {0x08, 0x08, 0x08, 0x08, 0x08, 0x08, 0x08},
	' ':  {0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
}

// Box-drawing characters (byte value >= 0x80), drawn as axis-aligned
// pixel runs instead of the 5x7 glyph table.
const (
	BoxHorizontal = 0xC4
	BoxVertical   = 0xB3
	BoxTopLeft    = 0xDA
	BoxTopRight   = 0xBF
	BoxBottomLeft = 0xC0
	BoxBottomRight = 0xD9
)

// Rect is a cell-grid or pixel rectangle, depending on context.
type Rect struct {
	X, Y, W, H uint32
}

// Cell is one character slot of the console's text grid.
type Cell struct {
	Char  byte
	Color uint8
}

// Flusher is the subset of a GPU driver this console needs: a raw pixel
// buffer to paint into and a way to tell the device which rectangle of
// it changed. virtio/gpu.Device satisfies this.
type Flusher interface {
	Size() (width, height uint32)
	Framebuffer() (buf []byte, stride uint32)
	Flush(x, y, w, h uint32) bool
}

// Console is a cell-grid text console rendered into a Flusher's
// framebuffer.
type Console struct {
	fb Flusher
	ok bool

	width, height uint32 // pixels
	stride        uint32
	framebuffer   []byte

	cols, rows uint32
	cells      []Cell

	activeColor uint8

	dirty     bool
	dirtyRect Rect

	explorer, navigator, consoleRect Rect
}

// New builds a console over fb, paints the background and flushes it,
// leaving the console clean. If fb is nil (the caller's GPU
// initialization failed, spec.md §8 Scenario 5), the console is built
// in a disabled state where every write is a no-op.
func New(fb Flusher) *Console {
	c := &Console{fb: fb, activeColor: uint8((7 << 4) | 1)} // blue on light-grey, matching defs.c's default

	if fb == nil {
		return c
	}

	c.width, c.height = fb.Size()
	c.framebuffer, c.stride = fb.Framebuffer()

	c.cols = c.width / glyphW
	c.rows = c.height / glyphH

	if c.cols < minCols {
		c.cols = minCols
	}
	if c.rows < minRows {
		c.rows = minRows
	}

	c.cells = make([]Cell, c.cols*c.rows)
	for i := range c.cells {
		c.cells[i] = Cell{Char: ' ', Color: c.activeColor}
	}

	c.ok = true

	c.computeLayout()
	c.fillRect(0, 0, c.width, c.height, bgFromColor(c.activeColor))
	c.Flush()

	return c
}

// computeLayout reproduces defs.c's layout_init arithmetic (spec.md
// §4.6's Layout initialisation).
func (c *Console) computeLayout() {
	if c.cols < minCols || c.rows < minRows {
		return
	}

	contentH := c.rows - 2

	explorerW := c.cols / 4
	if explorerW < 20 {
		explorerW = 20
	}
	if explorerW > c.cols-22 {
		explorerW = c.cols - 22
	}

	rightLeft := explorerW + 1
	rightW := (c.cols - 1) - rightLeft

	consoleH := contentH / 3
	if consoleH < 9 {
		consoleH = 9
	}
	if consoleH > contentH-6 {
		consoleH = contentH - 6
	}

	navigatorH := contentH - consoleH

	c.explorer = Rect{X: 0, Y: 1, W: explorerW, H: contentH}
	c.navigator = Rect{X: rightLeft, Y: 1, W: rightW, H: navigatorH}
	c.consoleRect = Rect{X: rightLeft, Y: 1 + navigatorH, W: rightW, H: consoleH}
}

// Layout returns the three cell-grid panes computed at New (spec.md §8
// Scenario 2).
func (c *Console) Layout() (explorer, navigator, consoleRect Rect) {
	return c.explorer, c.navigator, c.consoleRect
}

func (c *Console) cellIndex(x, y uint32) int {
	return int(y*c.cols + x)
}

func (c *Console) markDirty(x, y, w, h uint32) {
	if !c.ok {
		return
	}

	if !c.dirty {
		c.dirty = true
		c.dirtyRect = Rect{X: x, Y: y, W: w, H: h}
		return
	}

	x1, y1 := c.dirtyRect.X+c.dirtyRect.W, c.dirtyRect.Y+c.dirtyRect.H

	if x < c.dirtyRect.X {
		c.dirtyRect.X = x
	}
	if y < c.dirtyRect.Y {
		c.dirtyRect.Y = y
	}
	if x+w > x1 {
		x1 = x + w
	}
	if y+h > y1 {
		y1 = y + h
	}

	c.dirtyRect.W = x1 - c.dirtyRect.X
	c.dirtyRect.H = y1 - c.dirtyRect.Y
}

func (c *Console) putPixel(x, y uint32, xrgb uint32) {
	if !c.ok || x >= c.width || y >= c.height {
		return
	}

	stridePixels := c.stride / bytesPerPixel
	off := (y*stridePixels + x) * bytesPerPixel

	c.framebuffer[off+0] = byte(xrgb)
	c.framebuffer[off+1] = byte(xrgb >> 8)
	c.framebuffer[off+2] = byte(xrgb >> 16)
	c.framebuffer[off+3] = byte(xrgb >> 24)
}

func (c *Console) fillRect(x, y, w, h uint32, xrgb uint32) {
	if !c.ok || x >= c.width || y >= c.height {
		return
	}

	if x+w > c.width {
		w = c.width - x
	}
	if y+h > c.height {
		h = c.height - y
	}

	for yy := uint32(0); yy < h; yy++ {
		for xx := uint32(0); xx < w; xx++ {
			c.putPixel(x+xx, y+yy, xrgb)
		}
	}

	c.markDirty(x, y, w, h)
}

// get5x7 looks up the glyph bitmap for ch, falling back from lowercase
// to uppercase, then to '?', matching fb_console.c's get_5x7.
func get5x7(ch byte) [7]uint8 {
	if rows, ok := glyphs5x7[ch]; ok {
		return rows
	}

	if ch >= 'a' && ch <= 'z' {
		if rows, ok := glyphs5x7[ch-'a'+'A']; ok {
			return rows
		}
	}

	return glyphs5x7['?']
}

func (c *Console) drawBoxChar(ch byte, px, py uint32, fg, bg uint32) {
	c.fillRect(px, py, glyphW, glyphH, bg)

	xMid := px + glyphW/2
	yMid := py + glyphH/2

	x0, x1 := px, px+glyphW-1
	y0, y1 := py, py+glyphH-1

	switch ch {
	case BoxHorizontal:
		for x := x0; x <= x1; x++ {
			c.putPixel(x, yMid, fg)
		}
	case BoxVertical:
		for y := y0; y <= y1; y++ {
			c.putPixel(xMid, y, fg)
		}
	case BoxTopLeft:
		for x := xMid; x <= x1; x++ {
			c.putPixel(x, yMid, fg)
		}
		for y := yMid; y <= y1; y++ {
			c.putPixel(xMid, y, fg)
		}
	case BoxTopRight:
		for x := x0; x <= xMid; x++ {
			c.putPixel(x, yMid, fg)
		}
		for y := yMid; y <= y1; y++ {
			c.putPixel(xMid, y, fg)
		}
	case BoxBottomLeft:
		for x := xMid; x <= x1; x++ {
			c.putPixel(x, yMid, fg)
		}
		for y := y0; y <= yMid; y++ {
			c.putPixel(xMid, y, fg)
		}
	case BoxBottomRight:
		for x := x0; x <= xMid; x++ {
			c.putPixel(x, yMid, fg)
		}
		for y := y0; y <= yMid; y++ {
			c.putPixel(xMid, y, fg)
		}
	}

	c.markDirty(px, py, glyphW, glyphH)
}

func (c *Console) drawGlyph(ch byte, color uint8, cellX, cellY uint32) {
	if !c.ok {
		return
	}

	fg := fgFromColor(color)
	bg := bgFromColor(color)

	px := cellX * glyphW
	py := cellY * glyphH

	if ch >= 0x80 {
		c.drawBoxChar(ch, px, py, fg, bg)
		return
	}

	c.fillRect(px, py, glyphW, glyphH, bg)

	rows := get5x7(ch)

	x0 := px + glyphXOffset
	y0 := py + glyphYOffset

	for r := uint32(0); r < 7; r++ {
		bits := rows[r]
		for col := uint32(0); col < 6; col++ {
			if bits&(1<<(5-col)) != 0 {
				c.putPixel(x0+col, y0+r, fg)
			}
		}
	}

	c.markDirty(px, py, glyphW, glyphH)
}

// PutAt updates the cell at (x, y) and paints its 8x16 pixel area,
// marking it dirty.
func (c *Console) PutAt(x, y uint32, ch byte, color uint8) {
	if !c.ok || x >= c.cols || y >= c.rows {
		return
	}

	c.cells[c.cellIndex(x, y)] = Cell{Char: ch, Color: color}
	c.drawGlyph(ch, color, x, y)
}

// PutCursor writes a single character at (*x, *y), handling '\n', '\r'
// and '\0' specially, then advances the cursor, ringing (not scrolling)
// at the grid edges.
func (c *Console) PutCursor(ch byte, x, y *uint32) {
	switch ch {
	case '\n':
		*x = 0
		*y++
		return
	case '\r':
		*x = 0
		return
	case '\x00':
		return
	}

	c.PutAt(*x, *y, ch, c.activeColor)

	*x++

	if *x == c.cols {
		*x = 0
		*y++

		if *y == c.rows {
			*y = 0
		}
	}
}

// Write streams data through PutCursor starting at (x, y).
func (c *Console) Write(data []byte, x, y uint32) {
	for _, b := range data {
		c.PutCursor(b, &x, &y)
	}
}

// GetEntryAt returns the cell at (x, y).
func (c *Console) GetEntryAt(x, y uint32) (Cell, bool) {
	if !c.ok || x >= c.cols || y >= c.rows {
		return Cell{}, false
	}

	return c.cells[c.cellIndex(x, y)], true
}

// Size returns the console's cell-grid dimensions.
func (c *Console) Size() (cols, rows uint32) {
	return c.cols, c.rows
}

// Flush pushes the coalesced dirty rectangle to the GPU driver and
// clears the dirty flag. A clean console is a no-op: no MMIO traffic is
// generated (spec.md §8 invariant).
func (c *Console) Flush() bool {
	if !c.ok || !c.dirty {
		return false
	}

	r := c.dirtyRect
	c.dirty = false

	if r.W == 0 || r.H == 0 {
		return false
	}

	return c.fb.Flush(r.X, r.Y, r.W, r.H)
}
