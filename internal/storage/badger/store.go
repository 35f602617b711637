// Package badger is the embedded report store, built on BadgerHold. It backs
// single-binary deployments and the test suites that run without a database.
package badger

import (
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/stockgen/internal/common"
	"github.com/bobmcallan/stockgen/internal/interfaces"
)

// Store is the badger StorageManager.
type Store struct {
	db     *badgerhold.Store
	logger *common.Logger

	reports *reportStorage
	images  *imageStorage
}

// NewStore opens (creating if needed) a database directory at path.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create badger directory %s: %w", path, err)
	}

	opts := badgerhold.DefaultOptions
	opts.Options = badger.DefaultOptions(path).WithLogger(badgerLogger{logger})

	db, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database %s: %w", path, err)
	}
	logger.Debug().Str("path", path).Msg("Badger store opened")

	s := &Store{db: db, logger: logger}
	s.reports = newReportStorage(s, logger)
	s.images = newImageStorage(s, logger)
	return s, nil
}

func (s *Store) ReportStore() interfaces.ReportStore { return s.reports }
func (s *Store) ImageStore() interfaces.ImageStore   { return s.images }
func (s *Store) Backend() string                     { return "badger" }

// Close flushes and closes the database. Calling it twice is harmless.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

var _ interfaces.StorageManager = (*Store)(nil)

// badgerLogger routes badger's internal messages into the service log.
// Info and debug chatter is demoted to trace.
type badgerLogger struct {
	l *common.Logger
}

func (b badgerLogger) Errorf(f string, args ...interface{}) {
	b.l.Error().Msg(trimLine(f, args))
}

func (b badgerLogger) Warningf(f string, args ...interface{}) {
	b.l.Warn().Msg(trimLine(f, args))
}

func (b badgerLogger) Infof(f string, args ...interface{}) {
	b.l.Trace().Msg(trimLine(f, args))
}

func (b badgerLogger) Debugf(f string, args ...interface{}) {
	b.l.Trace().Msg(trimLine(f, args))
}

func trimLine(f string, args []interface{}) string {
	return "badger: " + strings.TrimSpace(fmt.Sprintf(f, args...))
}
