package raster

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

func decodeConfigFile(path string) (image.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return image.Config{}, fmt.Errorf("raster: %s: %w", path, err)
	}
	if cfg.Width < 1 || cfg.Height < 1 {
		return image.Config{}, fmt.Errorf("raster: %s: empty image", path)
	}
	return cfg, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("raster: %s: %w", path, err)
	}
	return img, nil
}

// centerCrop returns the largest rectangle centered in a sw x sh image with
// the aspect ratio of dw x dh.
func centerCrop(sw, sh, dw, dh int) image.Rectangle {
	if sw*dh > sh*dw {
		cw := sh * dw / dh
		x := (sw - cw) / 2
		return image.Rect(x, 0, x+cw, sh)
	}
	ch := sw * dh / dw
	y := (sh - ch) / 2
	return image.Rect(0, y, sw, y+ch)
}

func scalerOr(s draw.Scaler) draw.Scaler {
	if s == nil {
		return draw.ApproxBiLinear
	}
	return s
}
