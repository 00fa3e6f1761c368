package convert

import (
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// DefaultBinary is the ImageMagick 6 entrypoint. ImageMagick 7 installs
// "magick" instead.
const DefaultBinary = "convert"

// ExecConverter runs a local ImageMagick binary
type ExecConverter struct {
	binary string
	args   []string
}

// NewExecConverter creates a converter invoking binary. Extra args are
// placed before the source and destination paths.
func NewExecConverter(binary string, args ...string) *ExecConverter {
	if binary == "" {
		binary = DefaultBinary
	}
	return &ExecConverter{
		binary: binary,
		args:   args,
	}
}

// Convert runs "<binary> [args...] <src> <dst>".
func (c *ExecConverter) Convert(ctx context.Context, src, dst string) error {
	args := append(append([]string{}, c.args...), src, dst)
	cmd := exec.CommandContext(ctx, c.binary, args...)

	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Wrapf(ctxErr, "%s interrupted", c.binary)
		}
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return errors.Wrapf(err, "%s failed", c.binary)
		}
		return errors.Wrapf(err, "%s failed: %s", c.binary, msg)
	}

	return nil
}
