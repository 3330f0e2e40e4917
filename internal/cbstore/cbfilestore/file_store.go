// Package cbfilestore implements cbstore's DocumentStore on a single local
// JSON file, the board's canonical deployment shape. The file is read once
// and served from an in-memory cache afterwards; every save rewrites the
// whole file by writing a temp file in the same directory and renaming it
// over the real path, so a reader can never observe a partial write.
package cbfilestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/corkboard/corkboard/internal/cbstore"
)

// writeRetries is how many times a failed write is retried before the save
// is reported as failed.
const writeRetries = 3

type FileStore struct {
	cached *cbstore.Document
	logger *logrus.Logger
	mut    sync.Mutex
	name   string
	path   string

	// For purposes of testability.
	renameFile func(oldpath, newpath string) error
}

func NewFileStore(logger *logrus.Logger, path string) *FileStore {
	return &FileStore{
		logger:     logger,
		name:       reflect.TypeOf(FileStore{}).Name(),
		path:       path,
		renameFile: os.Rename,
	}
}

// Load returns the current document. Disk is consulted on the first call
// only; afterwards the cache is authoritative (it may run ahead of disk when
// a save has failed). A missing, unreadable or corrupt file yields the empty
// document and never an error, so a damaged board file degrades to a fresh
// board instead of an outage.
func (s *FileStore) Load(ctx context.Context) (*cbstore.Document, error) {
	s.mut.Lock()
	defer s.mut.Unlock()

	if s.cached == nil {
		s.cached = s.loadFromDisk()
	}

	return s.cached.Clone(), nil
}

// Save replaces the document. The cache is updated first so the new state
// stays visible to subsequent loads even when the disk write fails; the file
// is then rewritten atomically, retrying transient failures with exponential
// backoff.
func (s *FileStore) Save(ctx context.Context, doc *cbstore.Document) error {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.cached = doc.Clone()

	// Indented so the board file stays inspectable by hand.
	data, err := json.MarshalIndent(s.cached, "", "  ")
	if err != nil {
		cbstore.SaveFailuresTotal.Inc()
		return &cbstore.PersistenceError{Err: xerrors.Errorf("error marshaling document: %w", err)}
	}

	if err := s.writeAtomic(ctx, data); err != nil {
		cbstore.SaveFailuresTotal.Inc()
		s.logger.Errorf(s.name+": Error writing document file %q: %v", s.path, err)
		return &cbstore.PersistenceError{Err: err}
	}

	cbstore.SavesTotal.Inc()
	return nil
}

func (s *FileStore) loadFromDisk() *cbstore.Document {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warnf(s.name+": Error reading document file %q, starting empty: %v", s.path, err)
		}
		return cbstore.NewDocument()
	}

	var doc cbstore.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warnf(s.name+": Error parsing document file %q, starting empty: %v", s.path, err)
		return cbstore.NewDocument()
	}

	doc.Normalize()
	return &doc
}

func (s *FileStore) writeAtomic(ctx context.Context, data []byte) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 25 * time.Millisecond

	return backoff.RetryNotify(
		func() error { return s.writeOnce(data) },
		backoff.WithContext(backoff.WithMaxRetries(policy, writeRetries), ctx),
		func(err error, _ time.Duration) {
			cbstore.SaveRetriesTotal.Inc()
			s.logger.Warnf(s.name+": Retrying document write after error: %v", err)
		},
	)
}

func (s *FileStore) writeOnce(data []byte) error {
	tmpfile, err := os.CreateTemp(filepath.Dir(s.path), ".corkboard-*.json")
	if err != nil {
		return xerrors.Errorf("error creating temporary file: %w", err)
	}
	tmpname := tmpfile.Name()

	if _, err := tmpfile.Write(data); err != nil {
		tmpfile.Close()
		os.Remove(tmpname)
		return xerrors.Errorf("error writing temporary file: %w", err)
	}

	if err := tmpfile.Close(); err != nil {
		os.Remove(tmpname)
		return xerrors.Errorf("error closing temporary file: %w", err)
	}

	if err := s.renameFile(tmpname, s.path); err != nil {
		os.Remove(tmpname)
		return xerrors.Errorf("error replacing document file: %w", err)
	}

	return nil
}
