package media

import (
	"context"
	"errors"
	"os"

	"reelsync/internal/pipeline"
	logx "reelsync/pkg/logx"
)

// FSCleaner removes local artifacts after a task reaches a terminal state.
// Missing files are fine; cleanup may race a manual sweep of the work dirs.
type FSCleaner struct {
	log logx.Logger
}

func NewFSCleaner(log logx.Logger) *FSCleaner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FSCleaner{log: log}
}

func (c *FSCleaner) Clean(ctx context.Context, handles ...pipeline.MediaHandle) error {
	var errs []error
	for _, h := range handles {
		if h.Path == "" {
			continue
		}
		if err := os.Remove(h.Path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		c.log.Debug("artifact removed", logx.String("path", h.Path))
	}
	return errors.Join(errs...)
}
