// Package convert turns validated PNG frames into DDS textures with ImageMagick.
package convert

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/custom-frames/internal/metrics"
)

const (
	BackendExec   = "exec"
	BackendDocker = "docker"
)

// Converter turns the PNG at src into a DDS texture at dst
type Converter interface {
	Convert(ctx context.Context, src, dst string) error
}

// Options selects and bounds a conversion backend
type Options struct {
	Backend       string
	Binary        string
	Image         string
	Timeout       time.Duration
	MaxConcurrent int64
}

// New builds the configured backend wrapped in a Limited converter.
// The docker backend pulls its image before returning.
func New(ctx context.Context, opts Options) (*Limited, error) {
	var next Converter

	switch opts.Backend {
	case "", BackendExec:
		next = NewExecConverter(opts.Binary)
	case BackendDocker:
		dc, err := NewDockerConverter(opts.Image)
		if err != nil {
			return nil, err
		}
		if err := dc.EnsureImage(ctx); err != nil {
			dc.Close()
			return nil, errors.Wrap(err, "failed to ensure converter image")
		}
		next = dc
	default:
		return nil, errors.Errorf("unknown converter backend %q", opts.Backend)
	}

	return NewLimited(next, opts.MaxConcurrent, opts.Timeout), nil
}

// Limited bounds the number of concurrent conversions and the time each
// may take
type Limited struct {
	next    Converter
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewLimited wraps next. maxConcurrent below 1 is treated as 1; a zero
// timeout disables the deadline.
func NewLimited(next Converter, maxConcurrent int64, timeout time.Duration) *Limited {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Limited{
		next:    next,
		sem:     semaphore.NewWeighted(maxConcurrent),
		timeout: timeout,
	}
}

// Convert waits for a free slot, then runs the wrapped converter.
func (l *Limited) Convert(ctx context.Context, src, dst string) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "waiting for a conversion slot")
	}
	defer l.sem.Release(1)

	metrics.ConversionsInFlight.Inc()
	defer metrics.ConversionsInFlight.Dec()

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	err := l.next.Convert(ctx, src, dst)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ConversionDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	return err
}

// Close releases the wrapped backend if it holds resources.
func (l *Limited) Close() error {
	if c, ok := l.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
