package cover

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	_ "golang.org/x/image/webp"

	"recipebox/internal/fileutil"
)

// MaxPixels rejects decompression bombs before the full decode.
const MaxPixels = 90_000_000

// FullName is the filename recorded in frontmatter when a cover exists.
const FullName = "cover.jpg"

// Variant is one size of the cover, written as both JPEG and WebP.
type Variant struct {
	Base    string
	Width   int
	Height  int
	Quality int
	Filter  imaging.ResampleFilter
}

// Variants lists the sizes produced for every cover.
var Variants = []Variant{
	{Base: "cover", Width: 800, Height: 600, Quality: 80, Filter: imaging.Lanczos},
	{Base: "cover_small", Width: 400, Height: 300, Quality: 50, Filter: imaging.CatmullRom},
}

// Files returns the four filenames a cover occupies in a recipe directory.
func Files() []string {
	out := make([]string, 0, len(Variants)*2)
	for _, v := range Variants {
		out = append(out, v.Base+".jpg", v.Base+".webp")
	}
	return out
}

// Decode validates raw image bytes, applies EXIF orientation and flattens the
// result onto an opaque white background.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrNoImage
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unrecognized image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.New("image has no pixels")
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, MaxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0), nil
}

// WriteVariants renders every Variant of img into dir. Each file is written
// atomically, so a failure leaves the earlier variants (new) and the later
// ones (previous content, if any) in place.
func WriteVariants(dir string, img image.Image) error {
	for _, v := range Variants {
		fitted := imaging.Fill(img, v.Width, v.Height, imaging.Center, v.Filter)

		jpgPath := filepath.Join(dir, v.Base+".jpg")
		if err := fileutil.WriteAtomic(jpgPath, 0o644, func(w io.Writer) error {
			return imaging.Encode(w, fitted, imaging.JPEG, imaging.JPEGQuality(v.Quality))
		}); err != nil {
			return fmt.Errorf("write %s: %w", jpgPath, err)
		}

		webpPath := filepath.Join(dir, v.Base+".webp")
		if err := fileutil.WriteAtomic(webpPath, 0o644, func(w io.Writer) error {
			return encodeWebP(w, fitted, v.Quality)
		}); err != nil {
			return fmt.Errorf("write %s: %w", webpPath, err)
		}
	}
	return nil
}

// CopyVariants copies whichever cover files exist in src into dst.
func CopyVariants(src, dst string) error {
	for _, name := range Files() {
		from := filepath.Join(src, name)
		if _, err := os.Stat(from); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := fileutil.CopyFile(from, filepath.Join(dst, name)); err != nil {
			return fmt.Errorf("copy %s: %w", name, err)
		}
	}
	return nil
}

// RemoveVariants deletes every cover file in dir. Missing files are ignored.
func RemoveVariants(dir string) error {
	for _, name := range Files() {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

func encodeWebP(w io.Writer, img image.Image, quality int) error {
	opts, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
	if err != nil {
		return fmt.Errorf("webp options: %w", err)
	}
	// slowest, smallest output
	opts.Method = 6
	return webp.Encode(w, img, opts)
}
