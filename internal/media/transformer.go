package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"reelsync/internal/pipeline"
	logx "reelsync/pkg/logx"
)

// CopyTransformer stages fetched media into Dir, keeping the original
// untouched so a failed publish can be retried from the staged copy while the
// download is already cleaned up.
type CopyTransformer struct {
	Dir string

	log logx.Logger
}

func NewCopyTransformer(dir string, log logx.Logger) *CopyTransformer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CopyTransformer{Dir: dir, log: log}
}

func (t *CopyTransformer) Transform(ctx context.Context, h pipeline.MediaHandle) (pipeline.MediaHandle, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.MediaHandle{}, err
	}
	if err := os.MkdirAll(t.Dir, 0o755); err != nil {
		return pipeline.MediaHandle{}, fmt.Errorf("processed dir: %w", err)
	}
	dst := filepath.Join(t.Dir, filepath.Base(h.Path))

	src, err := os.Open(h.Path)
	if err != nil {
		return pipeline.MediaHandle{}, fmt.Errorf("open %s: %w", h.Path, err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return pipeline.MediaHandle{}, fmt.Errorf("create %s: %w", dst, err)
	}
	_, err = io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return pipeline.MediaHandle{}, fmt.Errorf("stage %s: %w", dst, err)
	}

	t.log.Debug("media staged", logx.String("src", h.Path), logx.String("dst", dst))
	return pipeline.MediaHandle{Path: dst}, nil
}
