package service

import (
	"context"
	"errors"

	"github.com/Kerhoff/wishlist/internal/preview"
)

// FetchPreview returns product metadata for url so the owner can review it
// before adding an item.
func (s *Service) FetchPreview(ctx context.Context, url string) (*preview.Metadata, error) {
	if s.previewer == nil {
		return nil, newError(KindValidation, "Link preview is disabled")
	}
	meta, err := s.previewer.Fetch(ctx, url)
	switch {
	case err == nil:
		return meta, nil
	case errors.Is(err, preview.ErrUnsupportedScheme):
		return nil, newError(KindValidation, "Only HTTP/HTTPS URLs are allowed")
	case errors.Is(err, preview.ErrInvalidURL):
		return nil, newError(KindValidation, "Invalid URL")
	case errors.Is(err, preview.ErrPrivateHost):
		return nil, newError(KindValidation, "Requests to private hosts are blocked")
	case ctx.Err() != nil:
		return nil, ctx.Err()
	}
	s.logger.WithError(err).Warnf("Link preview failed for %s", url)
	return nil, newError(KindValidation, "Failed to fetch metadata from URL")
}
