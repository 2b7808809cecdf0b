package magick

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"gopkg.in/gographics/imagick.v3/imagick"
)

func (l *Layer) wandOrErr() (*imagick.MagickWand, error) {
	if l.Group {
		return nil, fmt.Errorf("layer %q is a group", l.Name)
	}
	if l.Wand == nil {
		return nil, fmt.Errorf("layer %q has no pixel data", l.Name)
	}
	return l.Wand, nil
}

// Scale resizes the layer to the given dimensions.
func (l *Layer) Scale(width, height uint) error {
	w, err := l.wandOrErr()
	if err != nil {
		return err
	}
	if err := w.ResizeImage(width, height, imagick.FILTER_LANCZOS); err != nil {
		return fmt.Errorf("failed to scale layer %q: %w", l.Name, err)
	}
	return nil
}

// CropToArea crops the layer to the given area in layer coordinates.
func (l *Layer) CropToArea(x, y int, width, height uint) error {
	w, err := l.wandOrErr()
	if err != nil {
		return err
	}
	if err := w.CropImage(width, height, x, y); err != nil {
		return fmt.Errorf("failed to crop layer %q: %w", l.Name, err)
	}
	return nil
}

// ResizeCanvas resizes the layer canvas, placing the current content at the
// given offset within the new canvas.
func (l *Layer) ResizeCanvas(width, height uint, offsetX, offsetY int) error {
	w, err := l.wandOrErr()
	if err != nil {
		return err
	}
	if err := w.ExtentImage(width, height, -offsetX, -offsetY); err != nil {
		return fmt.Errorf("failed to resize canvas of layer %q: %w", l.Name, err)
	}
	return nil
}

// Rotate rotates the layer clockwise by the given number of degrees. Areas
// uncovered by the rotation become transparent.
func (l *Layer) Rotate(degrees float64) error {
	w, err := l.wandOrErr()
	if err != nil {
		return err
	}
	pw := imagick.NewPixelWand()
	defer pw.Destroy()
	pw.SetColor("none")
	if err := w.RotateImage(pw, degrees); err != nil {
		return fmt.Errorf("failed to rotate layer %q: %w", l.Name, err)
	}
	return nil
}

// FlipHorizontally mirrors the layer along the vertical axis.
func (l *Layer) FlipHorizontally() error {
	w, err := l.wandOrErr()
	if err != nil {
		return err
	}
	if err := w.FlopImage(); err != nil {
		return fmt.Errorf("failed to flip layer %q: %w", l.Name, err)
	}
	return nil
}

// FlipVertically mirrors the layer along the horizontal axis.
func (l *Layer) FlipVertically() error {
	w, err := l.wandOrErr()
	if err != nil {
		return err
	}
	if err := w.FlipImage(); err != nil {
		return fmt.Errorf("failed to flip layer %q: %w", l.Name, err)
	}
	return nil
}

// BrightnessContrast adjusts brightness and contrast, both in the range
// -100..100.
func (l *Layer) BrightnessContrast(brightness, contrast float64) error {
	w, err := l.wandOrErr()
	if err != nil {
		return err
	}
	if err := w.BrightnessContrastImage(brightness, contrast); err != nil {
		return fmt.Errorf("failed to adjust brightness/contrast of layer %q: %w", l.Name, err)
	}
	return nil
}

// Levels remaps the channel levels. black and white are in 0..1, gamma
// around 1.0.
func (l *Layer) Levels(black, gamma, white float64) error {
	w, err := l.wandOrErr()
	if err != nil {
		return err
	}
	if err := w.LevelImage(black, gamma, white); err != nil {
		return fmt.Errorf("failed to adjust levels of layer %q: %w", l.Name, err)
	}
	return nil
}

// Modulate adjusts brightness, saturation and hue, each as a percentage
// where 100 means unchanged.
func (l *Layer) Modulate(brightness, saturation, hue float64) error {
	w, err := l.wandOrErr()
	if err != nil {
		return err
	}
	if err := w.ModulateImage(brightness, saturation, hue); err != nil {
		return fmt.Errorf("failed to modulate layer %q: %w", l.Name, err)
	}
	return nil
}

// Sharpen sharpens the layer with a Gaussian operator.
func (l *Layer) Sharpen(radius, sigma float64) error {
	w, err := l.wandOrErr()
	if err != nil {
		return err
	}
	if err := w.SharpenImage(radius, sigma); err != nil {
		return fmt.Errorf("failed to sharpen layer %q: %w", l.Name, err)
	}
	return nil
}

// GaussianBlur blurs the layer.
func (l *Layer) GaussianBlur(radius, sigma float64) error {
	w, err := l.wandOrErr()
	if err != nil {
		return err
	}
	if err := w.GaussianBlurImage(radius, sigma); err != nil {
		return fmt.Errorf("failed to blur layer %q: %w", l.Name, err)
	}
	return nil
}

// ApplyOpacity multiplies the alpha channel by opacity (0..1), baking the
// value into the pixel data.
func (l *Layer) ApplyOpacity(opacity float64) error {
	w, err := l.wandOrErr()
	if err != nil {
		return err
	}
	return multiplyAlpha(w, opacity)
}

func multiplyAlpha(w *imagick.MagickWand, opacity float64) error {
	prev := w.SetImageChannelMask(imagick.CHANNEL_ALPHA)
	defer w.SetImageChannelMask(prev)
	if err := w.EvaluateImage(imagick.EVAL_OP_MULTIPLY, opacity); err != nil {
		return fmt.Errorf("failed to apply opacity: %w", err)
	}
	return nil
}

// AutoOrient rotates the layer according to its EXIF orientation.
func (l *Layer) AutoOrient() error {
	w, err := l.wandOrErr()
	if err != nil {
		return err
	}
	if err := w.AutoOrientImage(); err != nil {
		return fmt.Errorf("failed to auto-orient layer %q: %w", l.Name, err)
	}
	return nil
}

// Strip removes all profiles and comments from the layer.
func (l *Layer) Strip() error {
	w, err := l.wandOrErr()
	if err != nil {
		return err
	}
	if err := w.StripImage(); err != nil {
		return fmt.Errorf("failed to strip layer %q: %w", l.Name, err)
	}
	return nil
}

// ScaleTo scales the canvas and every layer by the implied horizontal and
// vertical factors.
func (img *Image) ScaleTo(width, height uint) error {
	if img.Width == 0 || img.Height == 0 {
		img.Width, img.Height = width, height
		return nil
	}
	fx := float64(width) / float64(img.Width)
	fy := float64(height) / float64(img.Height)

	var walk func(layers []*Layer) error
	walk = func(layers []*Layer) error {
		for _, l := range layers {
			l.OffsetX = int(math.Round(float64(l.OffsetX) * fx))
			l.OffsetY = int(math.Round(float64(l.OffsetY) * fy))
			if l.Group {
				if err := walk(l.Children); err != nil {
					return err
				}
				continue
			}
			if l.Wand == nil {
				continue
			}
			w := uint(math.Round(float64(l.Width()) * fx))
			h := uint(math.Round(float64(l.Height()) * fy))
			if w == 0 {
				w = 1
			}
			if h == 0 {
				h = 1
			}
			if err := l.Scale(w, h); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(img.Layers); err != nil {
		return err
	}

	img.Width, img.Height = width, height
	return nil
}

// ResizeCanvasTo changes the canvas size and shifts every top-level layer by
// the given offset, placing the existing content within the new canvas.
func (img *Image) ResizeCanvasTo(width, height uint, offsetX, offsetY int) {
	for _, l := range img.Layers {
		l.OffsetX += offsetX
		l.OffsetY += offsetY
	}
	img.Width, img.Height = width, height
}

// ResizeToLayers shrinks or grows the canvas to the bounding box of all
// top-level layers. Layers without pixel data contribute their offset point
// only. An image with no layers or a degenerate bounding box is left
// unchanged.
func (img *Image) ResizeToLayers() {
	if len(img.Layers) == 0 {
		return
	}

	minX, minY := img.Layers[0].OffsetX, img.Layers[0].OffsetY
	maxX, maxY := minX, minY
	for _, l := range img.Layers {
		minX = min(minX, l.OffsetX)
		minY = min(minY, l.OffsetY)
		maxX = max(maxX, l.OffsetX+int(l.Width()))
		maxY = max(maxY, l.OffsetY+int(l.Height()))
	}
	if maxX <= minX || maxY <= minY {
		return
	}

	img.ResizeCanvasTo(uint(maxX-minX), uint(maxY-minY), -minX, -minY)
}

// CropToArea crops the canvas to a rectangle in image coordinates. Top-level
// layers are cropped to their intersection with the area; layers entirely
// outside keep their pixels and end up off-canvas.
func (img *Image) CropToArea(x, y int, width, height uint) error {
	for _, l := range img.Layers {
		if l.Group || l.Wand == nil {
			l.OffsetX -= x
			l.OffsetY -= y
			continue
		}
		left := max(l.OffsetX, x)
		top := max(l.OffsetY, y)
		right := min(l.OffsetX+int(l.Width()), x+int(width))
		bottom := min(l.OffsetY+int(l.Height()), y+int(height))
		if right <= left || bottom <= top {
			l.OffsetX -= x
			l.OffsetY -= y
			continue
		}
		if err := l.CropToArea(left-l.OffsetX, top-l.OffsetY, uint(right-left), uint(bottom-top)); err != nil {
			return err
		}
		l.OffsetX = left - x
		l.OffsetY = top - y
	}
	img.Width, img.Height = width, height
	return nil
}

// MergeDown composites upper onto lower and returns the merged result as a
// new layer covering the union of both bounds. The inputs are left intact.
func MergeDown(upper, lower *Layer) (*Layer, error) {
	if _, err := upper.wandOrErr(); err != nil {
		return nil, err
	}
	if _, err := lower.wandOrErr(); err != nil {
		return nil, err
	}

	minX := min(upper.OffsetX, lower.OffsetX)
	minY := min(upper.OffsetY, lower.OffsetY)
	maxX := max(upper.OffsetX+int(upper.Width()), lower.OffsetX+int(lower.Width()))
	maxY := max(upper.OffsetY+int(upper.Height()), lower.OffsetY+int(lower.Height()))

	canvas, err := newCanvas(uint(maxX-minX), uint(maxY-minY))
	if err != nil {
		return nil, err
	}

	for _, l := range []*Layer{lower, upper} {
		src := l.Wand
		var tmp *imagick.MagickWand
		if l.Opacity < 1.0 {
			tmp = src.Clone()
			if err := multiplyAlpha(tmp, l.Opacity); err != nil {
				tmp.Destroy()
				canvas.Destroy()
				return nil, err
			}
			src = tmp
		}

		err := canvas.CompositeImage(src, imagick.COMPOSITE_OP_OVER, true, l.OffsetX-minX, l.OffsetY-minY)
		if tmp != nil {
			tmp.Destroy()
		}
		if err != nil {
			canvas.Destroy()
			return nil, fmt.Errorf("failed to merge layer %q: %w", l.Name, err)
		}
	}

	merged := NewLayer(lower.Name)
	merged.Wand = canvas
	merged.OffsetX = minX
	merged.OffsetY = minY
	return merged, nil
}

// Flatten composites all visible layers onto a transparent canvas of the
// image size and returns the result as a new layer. The image is left
// untouched.
func (img *Image) Flatten() (*Layer, error) {
	canvas, err := newCanvas(img.Width, img.Height)
	if err != nil {
		return nil, err
	}

	if err := compositeLayers(canvas, img.Layers, 0, 0); err != nil {
		canvas.Destroy()
		return nil, err
	}

	flat := NewLayer(img.Name)
	flat.Wand = canvas
	return flat, nil
}

// FlattenGroup composites a layer group into a single layer covering the
// image canvas, keeping the group's name.
func (img *Image) FlattenGroup(group *Layer) (*Layer, error) {
	if !group.Group {
		return group.Clone(), nil
	}

	canvas, err := newCanvas(img.Width, img.Height)
	if err != nil {
		return nil, err
	}

	if err := compositeLayers(canvas, group.Children, group.OffsetX, group.OffsetY); err != nil {
		canvas.Destroy()
		return nil, err
	}

	flat := NewLayer(group.Name)
	flat.Wand = canvas
	return flat, nil
}

func newCanvas(width, height uint) (*imagick.MagickWand, error) {
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("cannot create %dx%d canvas", width, height)
	}
	canvas := imagick.NewMagickWand()
	pw := imagick.NewPixelWand()
	defer pw.Destroy()
	pw.SetColor("none")
	if err := canvas.NewImage(width, height, pw); err != nil {
		canvas.Destroy()
		return nil, fmt.Errorf("failed to create canvas: %w", err)
	}
	if err := canvas.SetImageFormat("PNG"); err != nil {
		canvas.Destroy()
		return nil, fmt.Errorf("failed to set canvas format: %w", err)
	}
	return canvas, nil
}

// compositeLayers paints layers bottom-to-top onto canvas. Group offsets
// accumulate into their children.
func compositeLayers(canvas *imagick.MagickWand, layers []*Layer, baseX, baseY int) error {
	for i := len(layers) - 1; i >= 0; i-- {
		l := layers[i]
		if !l.Visible {
			continue
		}
		if l.Group {
			if err := compositeLayers(canvas, l.Children, baseX+l.OffsetX, baseY+l.OffsetY); err != nil {
				return err
			}
			continue
		}
		if l.Wand == nil {
			continue
		}

		src := l.Wand
		var tmp *imagick.MagickWand
		if l.Opacity < 1.0 {
			tmp = src.Clone()
			if err := multiplyAlpha(tmp, l.Opacity); err != nil {
				tmp.Destroy()
				return err
			}
			src = tmp
		}

		err := canvas.CompositeImage(src, imagick.COMPOSITE_OP_OVER, true, baseX+l.OffsetX, baseY+l.OffsetY)
		if tmp != nil {
			tmp.Destroy()
		}
		if err != nil {
			return fmt.Errorf("failed to composite layer %q: %w", l.Name, err)
		}
	}
	return nil
}

// NewFromLayer creates a new image with the source image's canvas size
// containing a copy of the given layer. Groups are flattened into a single
// layer first.
func (img *Image) NewFromLayer(l *Layer) (*Image, error) {
	dup := NewImage(img.Name, img.Width, img.Height)

	var layer *Layer
	var err error
	if l.Group {
		layer, err = img.FlattenGroup(l)
		if err != nil {
			return nil, err
		}
	} else {
		layer = l.Clone()
	}

	dup.Layers = []*Layer{layer}
	return dup, nil
}

// Write flattens the image and writes it to path. The format follows the
// path extension. A quality of 0 leaves the encoder default in place.
func (img *Image) Write(path string, quality uint) error {
	flat, err := img.Flatten()
	if err != nil {
		return err
	}
	defer flat.Destroy()

	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
		if err := flat.Wand.SetImageFormat(strings.ToUpper(ext)); err != nil {
			return fmt.Errorf("unrecognized output format %q: %w", ext, err)
		}
	}
	if quality > 0 {
		if err := flat.Wand.SetImageCompressionQuality(quality); err != nil {
			return fmt.Errorf("failed to set quality: %w", err)
		}
	}
	if err := flat.Wand.WriteImage(path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
