package store

import (
	"context"

	"github.com/roach88/phaseledger/internal/replay"
)

// Verify reads a stored run and validates it. A stored trace is never
// trusted on read: digests, ordering and the terminal failure are all
// re-derived from the stored document.
func (s *Store) Verify(ctx context.Context, runID string, opts ...replay.Option) (replay.Report, error) {
	doc, err := s.ReadDocument(ctx, runID)
	if err != nil {
		return replay.Report{}, err
	}
	return replay.ValidateDocument(doc, opts...), nil
}
