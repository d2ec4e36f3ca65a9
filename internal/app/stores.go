package app

import (
	"context"
	"errors"
	"io"
	"path/filepath"

	"go.trai.ch/docsync/internal/adapters/filestore" //nolint:depguard // Wired in app layer
	"go.trai.ch/docsync/internal/adapters/leveldb"   //nolint:depguard // Wired in app layer
	"go.trai.ch/docsync/internal/adapters/memdoc"    //nolint:depguard // Wired in app layer
	"go.trai.ch/docsync/internal/adapters/sqlitedoc" //nolint:depguard // Wired in app layer
	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/docsync/internal/core/ports"
	"go.trai.ch/zerr"
)

// changeLog is a remote store that keeps its edge events in a table that must be trimmed.
type changeLog interface {
	PruneChanges(ctx context.Context, keep int64) (int64, error)
}

// opened are the stores selected by the configuration together with what must be closed.
type opened struct {
	stores  Stores
	events  ports.EdgeEventSource
	changes changeLog
	closers []io.Closer
}

func (o *opened) Close() error {
	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		errs = append(errs, o.closers[i].Close())
	}
	return errors.Join(errs...)
}

func edgeCollections() []string {
	specs := domain.DefaultCounterSpecs()
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.EdgeCollection
	}
	return out
}

func openStores(cfg domain.Config, logger ports.Logger) (*opened, error) {
	o := &opened{}

	switch cfg.Local.Driver {
	case domain.DriverLevelDB:
		db, err := leveldb.Open(filepath.Join(cfg.Local.Path, "local.ldb"))
		if err != nil {
			return nil, err
		}
		o.closers = append(o.closers, db)
		o.stores.Pending, o.stores.Items = db, db.Items()
	case domain.DriverMemory:
		db, err := leveldb.OpenMem()
		if err != nil {
			return nil, err
		}
		o.closers = append(o.closers, db)
		o.stores.Pending, o.stores.Items = db, db.Items()
	case domain.DriverFile:
		fs, err := filestore.NewStore(filepath.Join(cfg.Local.Path, "local.json"))
		if err != nil {
			return nil, err
		}
		o.stores.Pending, o.stores.Items = fs, fs.Items()
	default:
		return nil, zerr.With(domain.ErrUnsupportedDriver, "local", cfg.Local.Driver)
	}

	switch cfg.Remote.Driver {
	case domain.DriverMemory:
		store := memdoc.New(edgeCollections()...)
		o.stores.Remote, o.events = store, store
	case domain.DriverSQLite:
		store, err := sqlitedoc.Open(cfg.Remote.DSN, cfg.Remote.PollInterval, logger, edgeCollections()...)
		if err != nil {
			_ = o.Close()
			return nil, err
		}
		o.closers = append(o.closers, store)
		o.stores.Remote, o.events, o.changes = store, store, store
	default:
		_ = o.Close()
		return nil, zerr.With(domain.ErrUnsupportedDriver, "remote", cfg.Remote.Driver)
	}

	return o, nil
}
