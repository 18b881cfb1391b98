package redis

import (
	"context"
	"strconv"

	"github.com/atriumhq/omnisearch/internal/db"
)

// StreamAdd appends fields to a capped stream (XADD MAXLEN ~ maxLen).
func (s *Store) StreamAdd(ctx context.Context, stream string, fields map[string]string, maxLen int64) error {
	partial := s.b().Xadd().Key(stream).Maxlen().Almost().Threshold(strconv.FormatInt(maxLen, 10)).Id("*").FieldValue()
	for k, v := range fields {
		partial = partial.FieldValue(k, v)
	}
	if err := s.do(ctx, partial.Build()).Error(); err != nil {
		return &db.Error{Op: db.OpXAdd, Err: err}
	}
	return nil
}
