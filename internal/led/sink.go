// v1
// internal/led/sink.go
package led

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mais4719/air-quality-monitoring/internal/level"
)

// Sink is the visual indicator the scheduler publishes to. The publish
// stage is the only writer; implementations need not be goroutine-safe
// beyond that.
type Sink interface {
	// Set drives all configured pixels to a uniform color.
	Set(ctx context.Context, c level.Color, intensity float64) error
	// Off blanks the strip.
	Off(ctx context.Context) error
	// Close releases the underlying transport.
	Close()
}

// Options describe the physical strip the frames are built for.
type Options struct {
	// NumLEDs is the pixel count on the strip.
	NumLEDs int
	// Intensity scales brightness, 0.0..1.0.
	Intensity float64
	// UseHalf alternates which half of the pixels light on each frame,
	// halving power draw and evening out wear.
	UseHalf bool
}

// Frame is the wire format consumed by the LED controller.
type Frame struct {
	Pixels    int         `json:"pixels"`
	Color     level.Color `json:"color"`
	Intensity float64     `json:"intensity"`
	// Mask selects which pixels light up: "all", "even" or "odd".
	Mask string `json:"mask"`
	Off  bool   `json:"off"`
}

// frameBuilder produces successive frames, flipping the even/odd mask
// per frame when UseHalf is on.
type frameBuilder struct {
	mu   sync.Mutex
	opts Options
	odd  bool
}

func newFrameBuilder(opts Options) (*frameBuilder, error) {
	if opts.NumLEDs <= 0 {
		return nil, fmt.Errorf("number of leds must be positive, got %d", opts.NumLEDs)
	}
	if opts.Intensity < 0 || opts.Intensity > 1 {
		return nil, fmt.Errorf("light intensity %v outside 0.0..1.0", opts.Intensity)
	}
	return &frameBuilder{opts: opts}, nil
}

func (b *frameBuilder) next(c level.Color, intensity float64) Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	mask := "all"
	if b.opts.UseHalf {
		if b.odd {
			mask = "odd"
		} else {
			mask = "even"
		}
		b.odd = !b.odd
	}
	return Frame{Pixels: b.opts.NumLEDs, Color: c, Intensity: intensity, Mask: mask}
}

func (b *frameBuilder) off() Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Frame{Pixels: b.opts.NumLEDs, Mask: "all", Off: true}
}

// SimSink logs frames instead of driving hardware. It stands in for the
// controller during development and in tests.
type SimSink struct {
	lg      *slog.Logger
	builder *frameBuilder
}

func NewSimSink(opts Options, lg *slog.Logger) (*SimSink, error) {
	builder, err := newFrameBuilder(opts)
	if err != nil {
		return nil, err
	}
	lg.Info("sim_led_strip_created", slog.Int("pixels", opts.NumLEDs), slog.Bool("use_half", opts.UseHalf))
	return &SimSink{lg: lg, builder: builder}, nil
}

func (s *SimSink) Set(_ context.Context, c level.Color, intensity float64) error {
	f := s.builder.next(c, intensity)
	s.lg.Info("led_set",
		slog.Int("r", int(f.Color.R)),
		slog.Int("g", int(f.Color.G)),
		slog.Int("b", int(f.Color.B)),
		slog.Float64("intensity", f.Intensity),
		slog.String("mask", f.Mask),
	)
	return nil
}

func (s *SimSink) Off(_ context.Context) error {
	s.lg.Info("led_off")
	return nil
}

func (s *SimSink) Close() {}
