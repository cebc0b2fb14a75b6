package storage

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png" // 注册 PNG 解码器
	"net/http"

	"golang.org/x/image/draw"

	"lostfound/internal/domain"
)

const (
	maxDimension = 1024
	jpegQuality  = 85
)

// normalizePhoto 嗅探真实格式（不信客户端报的头），只收 JPEG / PNG，
// 超边长等比缩小后统一转 JPEG 压缩存储
func normalizePhoto(data []byte) ([]byte, string, error) {
	detected := http.DetectContentType(data)
	if detected != "image/jpeg" && detected != "image/png" {
		return nil, "", domain.Invalid("photo", "only JPEG and PNG accepted")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", domain.Invalid("photo", "broken image data")
	}

	img = downscale(img, maxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "image/jpeg", nil
}

// downscale 任一边超过 maxDim 就按比例缩到界内，Catmull-Rom 插值
func downscale(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}

	newW, newH := w, h
	if w > h {
		newW = maxDim
		newH = int(float64(h) * float64(maxDim) / float64(w))
	} else {
		newH = maxDim
		newW = int(float64(w) * float64(maxDim) / float64(h))
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
