package prerun

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ctagard/debugctl/pkg/types"
)

// CoreUnpacker decompresses a .gz or .lzo core file into a temporary file
// that lives as long as the session.
type CoreUnpacker struct {
	Path string

	// LZOP is the lzop binary, "lzop" by default
	LZOP string

	unpacked string
}

// Name identifies the dependency in errors
func (c *CoreUnpacker) Name() string { return "core unpacker" }

// Acquire decompresses the core into a temporary file
func (c *CoreUnpacker) Acquire(ctx context.Context) error {
	tmp, err := os.CreateTemp("", "debugctl-core-*")
	if err != nil {
		return err
	}
	c.unpacked = tmp.Name()

	switch {
	case strings.HasSuffix(c.Path, ".gz"):
		err = gunzip(ctx, c.Path, tmp)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
	case strings.HasSuffix(c.Path, ".lzo"):
		tmp.Close()
		err = c.lzop(ctx, tmp.Name())
	default:
		tmp.Close()
		err = fmt.Errorf("unsupported core file compression: %s", filepath.Ext(c.Path))
	}
	return err
}

func gunzip(ctx context.Context, path string, dst io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	defer zr.Close()

	if _, err := io.Copy(dst, &ctxReader{ctx: ctx, r: zr}); err != nil {
		return fmt.Errorf("unpacking %s: %w", path, err)
	}
	return nil
}

func (c *CoreUnpacker) lzop(ctx context.Context, dst string) error {
	bin := c.LZOP
	if bin == "" {
		bin = "lzop"
	}
	// -f: the temp file already exists
	out, err := exec.CommandContext(ctx, bin, "-d", "-f", "-o", dst, c.Path).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", bin, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Apply points the session at the unpacked core
func (c *CoreUnpacker) Apply(p *types.RunParameters) {
	p.CoreFile = c.unpacked
}

// Release removes the unpacked core
func (c *CoreUnpacker) Release() error {
	if c.unpacked == "" {
		return nil
	}
	err := os.Remove(c.unpacked)
	c.unpacked = ""
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ctxReader stops a long copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
