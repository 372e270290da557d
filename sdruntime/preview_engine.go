package sdruntime

import (
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"math/rand/v2"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"fastsd/session"
)

// PreviewEngineName is the registry name of the built-in procedural engine.
const PreviewEngineName = "preview"

func init() {
	RegisterEngine(PreviewEngineName, newPreviewEngine)
}

// previewEngine renders a gradient with one blob per inference step and the
// prompt as a caption. Output depends only on the request, so a fixed seed
// reproduces the same image. The safety checker flag is ignored.
type previewEngine struct {
	cfg      EngineConfig
	compiled image.Point
	closed   bool
}

func newPreviewEngine(cfg EngineConfig) (Engine, error) {
	if !cfg.Backend.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Backend)
	}
	if cfg.Backend == session.BackendAccelerated && cfg.Device != "CPU" && cfg.Device != "GPU" {
		return nil, fmt.Errorf("%w: accelerated device %q", ErrUnsupportedBackend, cfg.Device)
	}
	return &previewEngine{cfg: cfg}, nil
}

func (e *previewEngine) Compile(ctx context.Context, width, height int) error {
	if e.closed {
		return ErrNotInitialized
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrCompileFailed, width, height)
	}
	e.compiled = image.Pt(width, height)
	return ctx.Err()
}

func (e *previewEngine) Run(ctx context.Context, req EngineRequest) ([]image.Image, error) {
	if e.closed {
		return nil, ErrNotInitialized
	}
	if e.cfg.Backend == session.BackendAccelerated && e.compiled != image.Pt(req.Width, req.Height) {
		return nil, fmt.Errorf("%w: compiled %dx%d, requested %dx%d",
			ErrShapeMismatch, e.compiled.X, e.compiled.Y, req.Width, req.Height)
	}

	count := req.Count
	if count < 1 {
		count = 1
	}

	images := make([]image.Image, 0, count)
	for i := 0; i < count; i++ {
		img, err := e.render(ctx, req, uint64(i))
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

func (e *previewEngine) Close() error {
	e.closed = true
	return nil
}

func (e *previewEngine) render(ctx context.Context, req EngineRequest, index uint64) (image.Image, error) {
	h := fnv.New64a()
	h.Write([]byte(e.cfg.ModelID))
	h.Write([]byte(req.Prompt))
	rng := rand.New(rand.NewPCG(uint64(req.Seed), h.Sum64()+index))

	img := image.NewRGBA(image.Rect(0, 0, req.Width, req.Height))
	top, bottom := randomColor(rng), randomColor(rng)
	for y := 0; y < req.Height; y++ {
		c := lerp(top, bottom, float64(y)/float64(req.Height))
		for x := 0; x < req.Width; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	for step := 0; step < req.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blob := randomColor(rng)
		blob.A = uint8(40 + rng.IntN(80)*int(req.Guidance)/int(session.MaxGuidanceScale))
		r := req.Width / (4 + step)
		cx, cy := rng.IntN(req.Width), rng.IntN(req.Height)
		drawDisc(img, cx, cy, r, blob)
	}

	caption := req.Prompt
	if caption == "" {
		caption = DefaultCaption
	}
	drawCaption(img, caption)
	return img, nil
}

func randomColor(rng *rand.Rand) color.RGBA {
	return color.RGBA{R: uint8(rng.IntN(256)), G: uint8(rng.IntN(256)), B: uint8(rng.IntN(256)), A: 255}
}

func lerp(a, b color.RGBA, t float64) color.RGBA {
	mix := func(x, y uint8) uint8 { return uint8(float64(x) + (float64(y)-float64(x))*t) }
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 255}
}

func drawDisc(img *image.RGBA, cx, cy, r int, c color.RGBA) {
	a := uint32(c.A)
	bounds := image.Rect(cx-r, cy-r, cx+r, cy+r).Intersect(img.Bounds())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy > r*r {
				continue
			}
			p := img.Pix[img.PixOffset(x, y):]
			p[0] = uint8((uint32(c.R)*a + uint32(p[0])*(255-a)) / 255)
			p[1] = uint8((uint32(c.G)*a + uint32(p[1])*(255-a)) / 255)
			p[2] = uint8((uint32(c.B)*a + uint32(p[2])*(255-a)) / 255)
		}
	}
}

func drawCaption(img *image.RGBA, text string) {
	face := basicfont.Face7x13
	b := img.Bounds()
	strip := image.Rect(b.Min.X, b.Max.Y-20, b.Max.X, b.Max.Y)
	draw.Draw(img, strip, image.NewUniform(color.RGBA{A: 160}), image.Point{}, draw.Over)

	maxChars := (b.Dx() - 8) / face.Advance
	if maxChars > 3 && len(text) > maxChars {
		text = text[:maxChars-3] + "..."
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(b.Min.X+4, b.Max.Y-6),
	}
	d.DrawString(text)
}
