package daemon

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/image"
	"github.com/irahardianto/dockhand/internal/platform/logger"
)

// PullImage pulls ref and drains the progress stream. The daemon reports
// pull failures inside the stream, so it must be read to the end.
func PullImage(ctx context.Context, c Client, ref string) error {
	log := logger.FromContext(ctx)
	log.Debug("pulling image", "image", ref)
	reader, err := c.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %q: %w", ref, err)
	}
	if reader == nil {
		return nil
	}
	if _, err := io.Copy(io.Discard, reader); err != nil {
		if closeErr := reader.Close(); closeErr != nil {
			log.Error("failed to close image pull reader", "error", closeErr)
		}
		return fmt.Errorf("reading image pull response: %w", err)
	}
	if err := reader.Close(); err != nil {
		return fmt.Errorf("closing image pull reader: %w", err)
	}
	return nil
}
