// Package archive exports the journal of finished sessions.
package archive

import (
	"context"
	"errors"

	"github.com/kiliankoe/turnwarden/internal/journal"
)

type Sink interface {
	Archive(ctx context.Context, code string, entries []journal.Entry) error
}

// Multi hands the journal to every sink and joins their errors.
type Multi []Sink

func (m Multi) Archive(ctx context.Context, code string, entries []journal.Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Archive(ctx, code, entries); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
