package sqlitedoc

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/zerr"
)

const changeBatch = 256

type changeRow struct {
	Seq        int64  `db:"seq"`
	Collection string `db:"collection"`
	DocID      string `db:"doc_id"`
	Op         string `db:"op"`
	Data       string `db:"data"`
}

type cursor struct {
	seq atomic.Int64
}

// Subscribe implements ports.EdgeEventSource. The subscriber sees changes committed after
// the call; EventID is the outbox sequence number.
func (s *Store) Subscribe(ctx context.Context) (<-chan domain.EdgeEvent, error) {
	var last int64
	if err := s.db.GetContext(ctx, &last, `SELECT COALESCE(MAX(seq), 0) FROM changes`); err != nil {
		return nil, classify(domain.ErrRemoteReadFailed, err)
	}

	cur := &cursor{}
	cur.seq.Store(last)
	s.mu.Lock()
	s.cursors[cur] = struct{}{}
	s.mu.Unlock()

	out := make(chan domain.EdgeEvent)
	go func() {
		defer close(out)
		defer func() {
			s.mu.Lock()
			delete(s.cursors, cur)
			s.mu.Unlock()
		}()
		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()

		for {
			var rows []changeRow
			err := s.db.SelectContext(ctx, &rows,
				`SELECT seq, collection, doc_id, op, data FROM changes WHERE seq > ? ORDER BY seq LIMIT ?`,
				cur.seq.Load(), changeBatch)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error(zerr.With(classify(domain.ErrRemoteReadFailed, err), "after_seq", cur.seq.Load()),
					"op", "poll change log")
			}
			for _, r := range rows {
				select {
				case out <- r.event():
					cur.seq.Store(r.Seq)
				case <-ctx.Done():
					return
				}
			}
			if len(rows) == changeBatch {
				continue
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// PruneChanges removes outbox entries older than the newest keep, but never an entry a live
// subscriber has not been handed yet. It returns how many were removed.
func (s *Store) PruneChanges(ctx context.Context, keep int64) (int64, error) {
	var newest int64
	if err := s.db.GetContext(ctx, &newest, `SELECT COALESCE(MAX(seq), 0) FROM changes`); err != nil {
		return 0, classify(domain.ErrRemoteReadFailed, err)
	}

	bound := newest - max(keep, 0)
	s.mu.Lock()
	for cur := range s.cursors {
		bound = min(bound, cur.seq.Load())
	}
	s.mu.Unlock()
	if bound <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM changes WHERE seq <= ?`, bound)
	if err != nil {
		return 0, classify(domain.ErrRemoteWriteFailed, err)
	}
	return res.RowsAffected()
}

func (r changeRow) event() domain.EdgeEvent {
	return domain.EdgeEvent{
		EventID:    strconv.FormatInt(r.Seq, 10),
		Collection: r.Collection,
		EdgeID:     r.DocID,
		SourceID:   gjson.Get(r.Data, domain.FieldSourceID).String(),
		TargetID:   gjson.Get(r.Data, domain.FieldTargetID).String(),
		Op:         domain.EdgeOp(r.Op),
	}
}
