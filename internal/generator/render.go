package generator

import "fmt"

// encodePGM renders a grayscale raster as a binary PGM (P5) image.
// PGM keeps the frame assets byte-stable without pulling in an image
// codec whose encoder output could drift between versions.
func encodePGM(width, height int, pixels []byte) []byte {
	header := fmt.Sprintf("P5\n%d %d\n255\n", width, height)
	out := make([]byte, 0, len(header)+len(pixels))
	out = append(out, header...)
	out = append(out, pixels...)
	return out
}
