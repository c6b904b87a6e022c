// Package qr extracts QR payloads from uploaded images.
package qr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/secureqr/qr-sentinel/internal/model"
)

// ErrNoCode is returned when the image contains no readable QR code. It is a
// distinct condition from an unsafe payload.
var ErrNoCode = errors.New("no QR code found")

// Decode finds QR codes in raw image bytes (PNG, JPEG, GIF).
func Decode(data []byte) ([]model.DecodedCode, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("binarize image: %w", err)
	}

	reader := qrcode.NewQRCodeReader()
	result, err := reader.Decode(bmp, map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	})
	if err != nil {
		return nil, ErrNoCode
	}

	code := model.DecodedCode{
		Data:   result.GetText(),
		Format: result.GetBarcodeFormat().String(),
	}
	code.Box = boundingBox(result.GetResultPoints())
	return []model.DecodedCode{code}, nil
}

// boundingBox derives an axis-aligned box from the finder-pattern points.
func boundingBox(points []gozxing.ResultPoint) *model.Box {
	if len(points) == 0 {
		return nil
	}
	minX, minY := points[0].GetX(), points[0].GetY()
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		if p.GetX() < minX {
			minX = p.GetX()
		}
		if p.GetX() > maxX {
			maxX = p.GetX()
		}
		if p.GetY() < minY {
			minY = p.GetY()
		}
		if p.GetY() > maxY {
			maxY = p.GetY()
		}
	}
	return &model.Box{
		Left:   int(minX),
		Top:    int(minY),
		Width:  int(maxX - minX),
		Height: int(maxY - minY),
	}
}
