package store

import (
	"fmt"

	"github.com/mahaj/pulse/pkg/db"
	"github.com/mahaj/pulse/pkg/errs"
	"go.uber.org/zap"
)

const (
	BackendBadger = "badger"
	BackendScylla = "scylla"
)

type Options struct {
	Backend        string
	BadgerPath     string
	ScyllaHosts    []string
	ScyllaKeyspace string
}

// Open connects the configured backend.
func Open(opts Options, log *zap.Logger) (Gateway, error) {
	switch opts.Backend {
	case BackendBadger, "":
		b, err := OpenBadger(opts.BadgerPath, log)
		if err != nil {
			return nil, err
		}
		return b, nil
	case BackendScylla:
		session, err := db.NewSession(opts.ScyllaHosts, opts.ScyllaKeyspace, log)
		if err != nil {
			return nil, err
		}
		return NewScylla(session, log), nil
	}
	return nil, fmt.Errorf("store backend %q: %w", opts.Backend, errs.ErrInvalidArgument)
}
