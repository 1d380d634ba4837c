package render

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Job is one renderer invocation: turn the vector tile at VectorPath into
// a raster image at OutputPath using the given style.
type Job struct {
	Style      string
	Zoom       uint32
	Column     uint32
	Row        uint32
	VectorPath string
	OutputPath string
}

// Renderer produces raster tiles. The pixel work is an external concern;
// implementations only honor the completion contract: return nil after
// writing a non-empty image file at OutputPath.
type Renderer interface {
	Render(ctx context.Context, job Job) error
}

// ProcessRenderer runs an external renderer binary per job. The binary is
// expected to exit zero after writing the output file.
type ProcessRenderer struct {
	Command string
}

func (p *ProcessRenderer) Render(ctx context.Context, job Job) error {
	args := []string{
		"--style", job.Style,
		"--zoom", strconv.FormatUint(uint64(job.Zoom), 10),
		"--column", strconv.FormatUint(uint64(job.Column), 10),
		"--row", strconv.FormatUint(uint64(job.Row), 10),
		"--input", job.VectorPath,
		"--output", job.OutputPath,
	}
	cmd := exec.CommandContext(ctx, p.Command, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("renderer killed: %w", ctx.Err())
		}
		msg := strings.TrimSpace(string(out))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return fmt.Errorf("renderer exited abnormally: %w (output %q)", err, msg)
	}
	return nil
}
