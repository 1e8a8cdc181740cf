// https://github.com/riscv-virt/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package console

import "testing"

// fakeFlusher is an in-memory Flusher standing in for a real GPU
// device, letting console logic run under go test.
type fakeFlusher struct {
	width, height uint32
	stride        uint32
	buf           []byte

	flushCount int
	lastFlush  Rect
}

func newFakeFlusher(width, height uint32) *fakeFlusher {
	stride := width * bytesPerPixel
	return &fakeFlusher{
		width:  width,
		height: height,
		stride: stride,
		buf:    make([]byte, stride*height),
	}
}

func (f *fakeFlusher) Size() (uint32, uint32)        { return f.width, f.height }
func (f *fakeFlusher) Framebuffer() ([]byte, uint32) { return f.buf, f.stride }

func (f *fakeFlusher) Flush(x, y, w, h uint32) bool {
	f.flushCount++
	f.lastFlush = Rect{X: x, Y: y, W: w, H: h}
	return true
}

// Scenario 2 (spec.md §8): a 640x400 framebuffer yields an 80x25 cell
// grid with explorer={(0,1),(20,23)}, navigator right of it, console in
// the bottom-right.
func TestLayoutInitMatchesScenario2(t *testing.T) {
	fb := newFakeFlusher(640, 400)
	c := New(fb)

	cols, rows := c.Size()
	if cols != 80 || rows != 25 {
		t.Fatalf("expected 80x25 cell grid, got %dx%d", cols, rows)
	}

	explorer, navigator, consoleRect := c.Layout()

	wantExplorer := Rect{X: 0, Y: 1, W: 20, H: 23}
	if explorer != wantExplorer {
		t.Fatalf("expected explorer %+v, got %+v", wantExplorer, explorer)
	}

	// navigator must sit strictly to the right of explorer
	if navigator.X <= explorer.X+explorer.W {
		t.Fatalf("navigator.X %d not right of explorer", navigator.X)
	}

	if consoleRect.X != navigator.X || consoleRect.W != navigator.W {
		t.Fatalf("expected console to share navigator's column, got console=%+v navigator=%+v", consoleRect, navigator)
	}

	if consoleRect.Y <= navigator.Y {
		t.Fatalf("expected console below navigator, got console.Y=%d navigator.Y=%d", consoleRect.Y, navigator.Y)
	}
}

// Scenario 3 (spec.md §8): writing "Hi" at (0,0) with color 0x1F then
// flushing produces one flush over the union rectangle, and a second
// flush with no intervening writes is a no-op.
func TestWriteHiThenFlushIsSingleUnionRect(t *testing.T) {
	fb := newFakeFlusher(640, 400)
	c := New(fb)
	fb.flushCount = 0 // New already flushed its initial background fill; count only what follows

	c.activeColor = 0x1F

	x, y := uint32(0), uint32(0)
	c.PutCursor('H', &x, &y)
	c.PutCursor('i', &x, &y)

	if !c.Flush() {
		t.Fatal("expected Flush to report work done")
	}

	if fb.flushCount != 1 {
		t.Fatalf("expected exactly one device flush, got %d", fb.flushCount)
	}

	// "Hi" occupies cells (0,0) and (1,0), each an 8x16 pixel cell: the
	// union rectangle spans x in [0,16) and y in [0,16).
	if fb.lastFlush.X != 0 || fb.lastFlush.Y != 0 {
		t.Fatalf("expected union rect to start at (0,0), got (%d,%d)", fb.lastFlush.X, fb.lastFlush.Y)
	}

	if fb.lastFlush.W != 16 || fb.lastFlush.H != 16 {
		t.Fatalf("expected 16x16 union rect, got %dx%d", fb.lastFlush.W, fb.lastFlush.H)
	}

	// A second flush with no writes in between must be a no-op: no
	// further device traffic.
	if c.Flush() {
		t.Fatal("expected second flush with no writes to report no work")
	}

	if fb.flushCount != 1 {
		t.Fatalf("expected flush count to stay at 1, got %d", fb.flushCount)
	}
}

func TestPutAtThenGetEntryAtRoundTrips(t *testing.T) {
	fb := newFakeFlusher(640, 400)
	c := New(fb)

	c.PutAt(5, 5, 'x', 0x07)

	cell, ok := c.GetEntryAt(5, 5)
	if !ok {
		t.Fatal("expected GetEntryAt to find the cell just written")
	}

	if cell.Char != 'x' || cell.Color != 0x07 {
		t.Fatalf("expected {'x', 0x07}, got %+v", cell)
	}
}

func TestOutOfBoundsPutAtIsNoop(t *testing.T) {
	fb := newFakeFlusher(640, 400)
	c := New(fb)

	cols, rows := c.Size()
	c.PutAt(cols, rows, 'z', 0)

	if _, ok := c.GetEntryAt(cols, rows); ok {
		t.Fatal("expected out-of-bounds GetEntryAt to report not found")
	}
}

func TestPutCursorWrapsColumnsAndRowsAsRing(t *testing.T) {
	fb := newFakeFlusher(80*8, 3*16) // 80 cols; 3 raw rows, clamped up to minRows
	c := New(fb)

	cols, rows := c.Size()

	x, y := cols-1, rows-1
	c.PutCursor('a', &x, &y)

	if x != 0 || y != 0 {
		t.Fatalf("expected cursor to ring back to (0,0), got (%d,%d)", x, y)
	}
}

func TestPutCursorNewlineAndCarriageReturn(t *testing.T) {
	fb := newFakeFlusher(640, 400)
	c := New(fb)

	x, y := uint32(5), uint32(5)
	c.PutCursor('\r', &x, &y)
	if x != 0 || y != 5 {
		t.Fatalf("expected CR to reset column only, got (%d,%d)", x, y)
	}

	x, y = 5, 5
	c.PutCursor('\n', &x, &y)
	if x != 0 || y != 6 {
		t.Fatalf("expected LF to reset column and advance row, got (%d,%d)", x, y)
	}
}

// Scenario 5 (spec.md §8): a nil Flusher (GPU init failed) puts the
// console into framebuffer_ok=false, where every write is a no-op.
func TestNilFlusherDisablesConsole(t *testing.T) {
	c := New(nil)

	cols, rows := c.Size()
	if cols != 0 || rows != 0 {
		t.Fatalf("expected a disabled console to report a zero size, got %dx%d", cols, rows)
	}

	c.PutAt(0, 0, 'x', 0)
	if _, ok := c.GetEntryAt(0, 0); ok {
		t.Fatal("expected all operations on a disabled console to be no-ops")
	}

	if c.Flush() {
		t.Fatal("expected Flush on a disabled console to report no work")
	}
}

func TestGlyphLookupUsesOwnLowercaseAndFallsBackToQuestionMark(t *testing.T) {
	if get5x7('a') == get5x7('A') {
		t.Fatal("expected 'a' to have its own distinct glyph, not fall back to 'A'")
	}

	// A character absent from the table (and not a lowercase letter)
	// must fall back to '?'.
	if get5x7(0x01) != glyphs5x7['?'] {
		t.Fatal("expected unknown glyph to fall back to '?'")
	}
}
