package kepler_test

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.jpl.nasa.gov/bdube/kepler/kepler"
)

func ExampleUnpack() {
	imgs := kepler.Unpack([]byte{0xAB, 0xCD, 0xEF}, 2, 1, 1)
	fmt.Printf("%#x %#x\n", imgs[0].Pix[0], imgs[0].Pix[1])
	// Output: 0xabc 0xdef
}

func TestUnpackEveryByteTriple(t *testing.T) {
	// b1 carries a nibble into each pixel, so sweep it fully and sample the others
	for b0 := 0; b0 < 256; b0 += 17 {
		for b1 := 0; b1 < 256; b1++ {
			for b2 := 0; b2 < 256; b2 += 15 {
				imgs := kepler.Unpack([]byte{byte(b0), byte(b1), byte(b2)}, 2, 1, 1)
				p0, p1 := imgs[0].Pix[0], imgs[0].Pix[1]
				if want := uint16(b0<<4 | b1>>4); p0 != want {
					t.Fatalf("p0 for %02x%02x%02x: expected %#x got %#x", b0, b1, b2, want, p0)
				}
				if want := uint16((b1&0x0F)<<8 | b2); p1 != want {
					t.Fatalf("p1 for %02x%02x%02x: expected %#x got %#x", b0, b1, b2, want, p1)
				}
				if p0 > 4095 || p1 > 4095 {
					t.Fatalf("pixel out of 12 bit range: %d %d", p0, p1)
				}
			}
		}
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	for _, width := range []int{2, 4, 10, 64} {
		height := 7
		img := kepler.ChannelImage{Width: width, Height: height, Pix: make([]uint16, width*height)}
		for i := range img.Pix {
			img.Pix[i] = uint16((i*37 + 11) % 4096)
		}
		out := kepler.Unpack(kepler.Pack(img), width, height, 1)
		if len(out) != 1 {
			t.Fatalf("expected one channel, got %d", len(out))
		}
		if diff := cmp.Diff(img.Pix, out[0].Pix); diff != "" {
			t.Errorf("width %d round trip mismatch (-want +got):\n%s", width, diff)
		}
	}
}

func TestUnpackHDRMatchesSeparateChannels(t *testing.T) {
	const width, height = 8, 5
	low := kepler.SimImage(kepler.Low, width, height, 3)
	high := kepler.SimImage(kepler.High, width, height, 3)

	hdr := kepler.Unpack(kepler.Pack(low, high), width, height, 2)
	lowOnly := kepler.Unpack(kepler.Pack(low), width, height, 1)
	highOnly := kepler.Unpack(kepler.Pack(high), width, height, 1)

	if diff := cmp.Diff(lowOnly[0].Pix, hdr[0].Pix); diff != "" {
		t.Errorf("low channel differs (-ldr +hdr):\n%s", diff)
	}
	if diff := cmp.Diff(highOnly[0].Pix, hdr[1].Pix); diff != "" {
		t.Errorf("high channel differs (-ldr +hdr):\n%s", diff)
	}
	if hdr[0].Channel != kepler.Low || hdr[1].Channel != kepler.High {
		t.Errorf("channels tagged %v %v, expected L H", hdr[0].Channel, hdr[1].Channel)
	}
}

func TestUnpackHDRRowLayout(t *testing.T) {
	// one row of two pixels per channel: low sub-row then high sub-row, twice
	payload := []byte{
		0x00, 0x10, 0x02, // row 0 low:  1, 2
		0x00, 0x30, 0x04, // row 0 high: 3, 4
		0x00, 0x50, 0x06, // row 1 low:  5, 6
		0x00, 0x70, 0x08, // row 1 high: 7, 8
	}
	imgs := kepler.Unpack(payload, 2, 2, 2)
	if diff := cmp.Diff([]uint16{1, 2, 5, 6}, imgs[0].Pix); diff != "" {
		t.Errorf("low (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint16{3, 4, 7, 8}, imgs[1].Pix); diff != "" {
		t.Errorf("high (-want +got):\n%s", diff)
	}
}

func TestUnpackDoesNotMutateInput(t *testing.T) {
	img := kepler.SimImage(kepler.Low, 6, 3, 0)
	payload := kepler.Pack(img)
	cpy := append([]byte(nil), payload...)
	kepler.Unpack(payload, 6, 3, 1)
	if diff := cmp.Diff(cpy, payload); diff != "" {
		t.Errorf("payload modified:\n%s", diff)
	}
}

func TestChannelTags(t *testing.T) {
	cases := map[kepler.Channel]string{kepler.Low: "L", kepler.High: "H", kepler.Channel(7): "INVALID"}
	for c, want := range cases {
		if got := c.Tag(); got != want {
			t.Errorf("channel %d: expected %s got %s", int(c), want, got)
		}
	}
}
