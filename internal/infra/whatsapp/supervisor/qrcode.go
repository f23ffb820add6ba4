package supervisor

import (
	"bytes"
	"fmt"
	"image/png"
	"time"

	"github.com/vincent-petithory/dataurl"
	"rsc.io/qr"
)

// qrValidity is how long a rendered pairing challenge stays valid; the
// core never requests a fresh one, the protocol library re-issues it on
// its own timeout. spec.md §4.B and §6 both name 60 seconds.
const qrValidity = 60 * time.Second

// qrPixelSize is the target PNG side length in pixels; whatsmeow's QR
// payload is a short opaque string, so the whole image is recomputed on
// every "code" event rather than cached bitmap-to-bitmap.
const qrPixelSize = 300

// renderQRDataURL turns a raw pairing challenge string into the PNG data
// URL spec.md §6 names as the GET /instances/:id/qr response body.
// Grounded on the teacher's QRCodeManager.displayQRCodeInTerminal, which
// rendered the same challenge string with qrterminal's half-block
// terminal writer; here the bitmap goes through image/png and
// dataurl.New instead, since a fleet instance has no attached terminal.
func renderQRDataURL(challenge string) (string, error) {
	code, err := qr.Encode(challenge, qr.M)
	if err != nil {
		return "", fmt.Errorf("encode qr bitmap: %w", err)
	}
	if code.Size > 0 {
		code.Scale = qrPixelSize / code.Size
	}
	if code.Scale < 1 {
		code.Scale = 1
	}

	img := code.Image()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("render qr png: %w", err)
	}

	return dataurl.New(buf.Bytes(), "image", "png").String(), nil
}
