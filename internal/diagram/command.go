package diagram

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CommandRenderer renders through an external Mermaid CLI such as mmdc. The
// command is run as `<Command> -i <in.mmd> -o <out.<Format>>`.
type CommandRenderer struct {
	Command string
	Format  string // svg or png, default svg
}

var _ Renderer = (*CommandRenderer)(nil)

func (r *CommandRenderer) Render(ctx context.Context, text string) (Image, error) {
	format := strings.ToLower(r.Format)
	if format == "" {
		format = "svg"
	}
	dir, err := os.MkdirTemp("", "apilens-diagram-*")
	if err != nil {
		return Image{}, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "diagram.mmd")
	out := filepath.Join(dir, "diagram."+format)
	if err := os.WriteFile(in, []byte(text), 0o600); err != nil {
		return Image{}, err
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Command, "-i", in, "-o", out)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Image{}, fmt.Errorf("%s: %w: %s", r.Command, err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return Image{}, err
	}
	ct := "image/svg+xml"
	if format == "png" {
		ct = "image/png"
	}
	return Image{ContentType: ct, Data: data}, nil
}
