package kepler

// Channel identifies the gain channel an image was read out with
type Channel int

const (
	// Low is the low gain channel, present in every frame
	Low Channel = iota

	// High is the high gain channel, present only in HDR frames
	High
)

// Tag returns the one letter tag of the channel, or INVALID
func (c Channel) Tag() string {
	switch c {
	case Low:
		return "L"
	case High:
		return "H"
	default:
		return "INVALID"
	}
}

func (c Channel) String() string {
	return c.Tag()
}

// ChannelImage is a decoded image from one gain channel.  Pix is row-major.
type ChannelImage struct {
	Channel Channel
	Width   int
	Height  int
	Pix     []uint16
}

// PackedRowSize is the number of bytes one packed row of width pixels occupies
func PackedRowSize(width int) int {
	return width * 3 / 2
}

// PayloadSize is the number of bytes of pixel data in a frame
func PayloadSize(width, height, channels int) int {
	return width * height * channels * 3 / 2
}

// Unpack decodes a packed 12-bit payload into one image per channel.
//
// Each row of the payload holds one packed sub-row per channel, low first.
// Two pixels occupy three bytes:
//  p0 = b0<<4 | b1>>4
//  p1 = (b1&0xF)<<8 | b2
// width must be even.  The payload is not checked against the geometry; it
// must hold at least PayloadSize(width, height, channels) bytes.
func Unpack(payload []byte, width, height, channels int) []ChannelImage {
	imgs := make([]ChannelImage, channels)
	for c := range imgs {
		imgs[c] = ChannelImage{
			Channel: Channel(c),
			Width:   width,
			Height:  height,
			Pix:     make([]uint16, width*height)}
	}
	rowSize := PackedRowSize(width)
	for y := 0; y < height; y++ {
		// the cursor for each channel starts where the previous channel's ended
		cursor := y * rowSize * channels
		for c := 0; c < channels; c++ {
			unpackRow(imgs[c].Pix[y*width:(y+1)*width], payload[cursor:cursor+rowSize])
			cursor += rowSize
		}
	}
	return imgs
}

func unpackRow(dst []uint16, src []byte) {
	for i, j := 0, 0; i+1 < len(dst); i, j = i+2, j+3 {
		b0, b1, b2 := uint16(src[j]), uint16(src[j+1]), uint16(src[j+2])
		dst[i] = b0<<4 | b1>>4
		dst[i+1] = (b1&0x0F)<<8 | b2
	}
}

// Pack is the inverse of Unpack.  All images must share the same dimensions,
// and only the low 12 bits of each pixel are kept.
func Pack(imgs ...ChannelImage) []byte {
	if len(imgs) == 0 {
		return nil
	}
	width, height := imgs[0].Width, imgs[0].Height
	rowSize := PackedRowSize(width)
	out := make([]byte, PayloadSize(width, height, len(imgs)))
	cursor := 0
	for y := 0; y < height; y++ {
		for _, img := range imgs {
			packRow(out[cursor:cursor+rowSize], img.Pix[y*width:(y+1)*width])
			cursor += rowSize
		}
	}
	return out
}

func packRow(dst []byte, src []uint16) {
	for i, j := 0, 0; i+1 < len(src); i, j = i+2, j+3 {
		p0, p1 := src[i]&0x0FFF, src[i+1]&0x0FFF
		dst[j] = byte(p0 >> 4)
		dst[j+1] = byte(p0&0x0F)<<4 | byte(p1>>8)
		dst[j+2] = byte(p1)
	}
}
