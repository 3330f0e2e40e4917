// Package cbmemorystore implements cbstore's DocumentStore in process
// memory only. It backs tests and ephemeral deployments that don't mind the
// board evaporating on restart.
package cbmemorystore

import (
	"context"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/corkboard/corkboard/internal/cbstore"
)

type MemoryStore struct {
	doc    *cbstore.Document
	logger *logrus.Logger
	mut    sync.RWMutex
	name   string
}

func NewMemoryStore(logger *logrus.Logger) *MemoryStore {
	return &MemoryStore{
		logger: logger,
		name:   reflect.TypeOf(MemoryStore{}).Name(),
	}
}

func (s *MemoryStore) Load(ctx context.Context) (*cbstore.Document, error) {
	s.mut.RLock()
	defer s.mut.RUnlock()

	if s.doc == nil {
		return cbstore.NewDocument(), nil
	}

	return s.doc.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, doc *cbstore.Document) error {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.doc = doc.Clone()
	cbstore.SavesTotal.Inc()
	s.logger.Debugf(s.name+": Saved document (%d thread(s))", len(s.doc.Threads))
	return nil
}
