// https://github.com/riscv-virt/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package gpu

import "testing"

func TestHeaderEncodingSize(t *testing.T) {
	b := encodeGetDisplayInfo()

	if len(b) != headerSize {
		t.Fatalf("expected header-only request to be %d bytes, got %d", headerSize, len(b))
	}

	if headerType(b) != cmdGetDisplayInfo {
		t.Fatalf("expected type %#x, got %#x", cmdGetDisplayInfo, headerType(b))
	}
}

func TestCreateResource2DEncoding(t *testing.T) {
	b := encodeCreateResource2D(7, 640, 480)

	if len(b) != headerSize+16 {
		t.Fatalf("expected %d bytes, got %d", headerSize+16, len(b))
	}

	if headerType(b) != cmdResourceCreate2D {
		t.Fatalf("unexpected command type %#x", headerType(b))
	}
}

func TestAttachBackingEncoding(t *testing.T) {
	b := encodeAttachBacking(3, 0xdeadbeef, 1024)

	const want = headerSize + 8 + 16 // resource_id+entry_count, then one memory entry
	if len(b) != want {
		t.Fatalf("expected %d bytes, got %d", want, len(b))
	}
}

func TestSetScanoutEncoding(t *testing.T) {
	b := encodeSetScanout(1, 320, 200)

	if len(b) != headerSize+16+8 {
		t.Fatalf("expected %d bytes, got %d", headerSize+16+8, len(b))
	}
}

func TestTransferAndFlushEncoding(t *testing.T) {
	r := rect{10, 20, 30, 40}

	transfer := encodeTransferToHost2D(1, r, 12345)
	if len(transfer) != headerSize+16+8+8 {
		t.Fatalf("expected %d bytes, got %d", headerSize+16+8+8, len(transfer))
	}

	flush := encodeResourceFlush(1, r)
	if len(flush) != headerSize+16+8 {
		t.Fatalf("expected %d bytes, got %d", headerSize+16+8, len(flush))
	}
}

// Scenario 5 (spec.md §8): a GET_DISPLAY_INFO response with
// pmodes[0].enabled=false must be rejected.
func TestDecodeDisplayInfoRejectsDisabledScanout(t *testing.T) {
	resp := make([]byte, responseDisplayInfoSize)

	// header.type = respOKDisplayInfo
	resp[0] = byte(respOKDisplayInfo & 0xff)
	resp[1] = byte(respOKDisplayInfo >> 8)

	// pmodes[0].rect = {0,0,0,0}, enabled = 0 (already zeroed)

	respType, enabled, _, _ := decodeDisplayInfo(resp)

	if respType != respOKDisplayInfo {
		t.Fatalf("unexpected response type %#x", respType)
	}

	if enabled {
		t.Fatal("expected scanout 0 to decode as disabled")
	}
}

func TestDecodeDisplayInfoReadsEnabledScanout(t *testing.T) {
	resp := make([]byte, responseDisplayInfoSize)

	resp[0] = byte(respOKDisplayInfo & 0xff)
	resp[1] = byte(respOKDisplayInfo >> 8)

	off := headerSize
	// rect.width = 640, rect.height = 480
	resp[off+8] = 640 & 0xff
	resp[off+9] = (640 >> 8) & 0xff
	resp[off+12] = 480 & 0xff
	resp[off+13] = (480 >> 8) & 0xff
	// enabled = 1
	resp[off+16] = 1

	_, enabled, width, height := decodeDisplayInfo(resp)

	if !enabled {
		t.Fatal("expected scanout 0 to decode as enabled")
	}

	if width != 640 || height != 480 {
		t.Fatalf("expected 640x480, got %dx%d", width, height)
	}
}

func TestRectEncodeDecodeRoundTrips(t *testing.T) {
	r := rect{1, 2, 3, 4}

	b := encodeResourceFlush(9, r)

	got := decodeRect(b[headerSize:])
	if got != r {
		t.Fatalf("expected %+v, got %+v", r, got)
	}
}
