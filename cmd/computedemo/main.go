// Command computedemo runs two compute workers through gpucompute: one scales
// a float array in place, the other paints a gradient into an image that is
// read back and saved as BMP.
package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"image"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/bmp"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/gpucompute"
	"github.com/gogpu/gpucompute/backend"
	"github.com/gogpu/gpucompute/backend/soft"
	"github.com/gogpu/gpucompute/backend/wgpu"
	"github.com/gogpu/gpucompute/gpucore"

	_ "github.com/gogpu/wgpu/hal/allbackends"
)

//go:embed shaders/*.wgsl
var shaderFS embed.FS

func main() {
	var (
		configPath = flag.String("config", "", "TOML configuration file")
		backendArg = flag.String("backend", "", "device backend (default: best available)")
		width      = flag.Uint("width", 256, "image width")
		height     = flag.Uint("height", 256, "image height")
		count      = flag.Int("n", 1024, "number of values to scale")
		factor     = flag.Float64("k", 2, "scale factor")
		output     = flag.String("output", "gradient.bmp", "output file")
		timeout    = flag.Duration("timeout", 10*time.Second, "time limit for all dispatches")
	)
	flag.Parse()

	cfg := gpucompute.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = gpucompute.LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *backendArg != "" {
		cfg.Backend = *backendArg
	}
	level, err := cfg.Level()
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	gpucompute.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	dev, err := openDevice(cfg.Backend)
	if err != nil {
		log.Fatalf("Failed to open device: %v", err)
	}
	defer dev.Close()

	c, err := gpucompute.NewContext(dev, gpucompute.WithConfig(cfg))
	if err != nil {
		log.Fatalf("Failed to create context: %v", err)
	}
	defer c.Close()

	e := c.Engine()
	shaders, err := fs.Sub(shaderFS, "shaders")
	if err != nil {
		log.Fatalf("Failed to open shaders: %v", err)
	}
	if err := e.Shaders().LoadFS(shaders); err != nil {
		log.Fatalf("Failed to load shaders: %v", err)
	}

	data := values{K: float32(*factor), Data: make([]float32, *count)}
	for i := range data.Data {
		data.Data[i] = float32(i)
	}
	valueState := gpucompute.NewState(data)
	valueWorker, err := gpucompute.NewWorker(c, valueState)
	if err != nil {
		log.Fatalf("Failed to create worker: %v", err)
	}

	img, err := gpucompute.NewImage(uint32(*width), uint32(*height), gputypes.TextureFormatRGBA8Unorm)
	if err != nil {
		log.Fatalf("Failed to create image: %v", err)
	}
	imageID, err := e.Images().Add(img)
	if err != nil {
		log.Fatalf("Failed to add image: %v", err)
	}
	canvasState := gpucompute.NewState(canvas{Target: imageID, Width: img.Width, Height: img.Height})
	canvasWorker, err := gpucompute.NewWorker(c, canvasState)
	if err != nil {
		log.Fatalf("Failed to create worker: %v", err)
	}

	valueWorker.TriggerIfChanged(gpucompute.NewJob("scale", data.workgroups()))
	canvasWorker.TriggerIfChanged(gpucompute.NewJob("gradient", canvasState.Get().workgroups()))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	start := time.Now()
	ticks, err := run(ctx, e, valueWorker, canvasWorker)
	if err != nil {
		log.Fatalf("Dispatch failed after %d ticks: %v", ticks, err)
	}

	result := valueState.Get().Data
	painted, _ := e.Images().Get(imageID)
	if err := saveBMP(*output, painted); err != nil {
		log.Fatalf("Failed to save: %v", err)
	}

	p := message.NewPrinter(language.English)
	p.Printf("Backend %s, %d ticks in %v\n", backendName(dev, cfg.Backend), ticks, time.Since(start).Round(time.Microsecond))
	if len(result) > 0 {
		p.Printf("Scaled %d values by %g: last = %g\n", len(result), *factor, result[len(result)-1])
	}
	p.Printf("Read back %d bytes of values and %d bytes of pixels\n", len(result)*4, len(painted.Pixels))
	p.Printf("Image saved to %s (%dx%d)\n", *output, painted.Width, painted.Height)
}

// openDevice opens the named backend. Without a name it falls back to the
// software device when the best backend has no adapter.
func openDevice(name string) (gpucore.Device, error) {
	dev, err := backend.Open(name)
	if err != nil && name == "" && backend.Default() != backend.BackendSoft {
		log.Printf("Best backend unavailable (%v), using %s", err, backend.BackendSoft)
		dev, err = backend.Open(backend.BackendSoft)
	}
	if err != nil {
		return nil, err
	}
	if sd, ok := dev.(*soft.Device); ok {
		registerKernels(sd)
	}
	return dev, nil
}

func backendName(dev gpucore.Device, configured string) string {
	if wd, ok := dev.(*wgpu.Device); ok {
		info := wd.Info()
		return info.String()
	}
	if _, ok := dev.(*soft.Device); ok {
		return backend.BackendSoft
	}
	return configured
}

// ticker is the part of a worker run waits on.
type ticker interface {
	Completions() *gpucompute.Events[gpucompute.Completed]
}

// run ticks the engine until every worker completed one dispatch.
func run(ctx context.Context, e *gpucompute.Engine, workers ...ticker) (int, error) {
	done := make([]bool, len(workers))
	for ticks := 1; ; ticks++ {
		if err := e.Tick(ctx); err != nil {
			return ticks, err
		}
		remaining := 0
		for i, w := range workers {
			if len(w.Completions().Drain()) > 0 {
				done[i] = true
			}
			if !done[i] {
				remaining++
			}
		}
		if remaining == 0 {
			return ticks, nil
		}
		if err := ctx.Err(); err != nil {
			return ticks, fmt.Errorf("%d of %d workers unfinished: %w", remaining, len(workers), err)
		}
	}
}

// saveBMP writes an RGBA8 image.
func saveBMP(path string, img gpucompute.Image) error {
	rgba := &image.RGBA{
		Pix:    img.Pixels,
		Stride: int(img.BytesPerRow()),
		Rect:   image.Rect(0, 0, int(img.Width), int(img.Height)),
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := bmp.Encode(f, rgba); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
