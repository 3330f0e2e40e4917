// Package cbgcpstoragestore implements cbstore's DocumentStore on GCP's
// storage service, for hosts with no persistent disk. The whole board lives
// in a single JSON object that's replaced on every save (object writes
// become visible atomically on Close). Note that the bucket should be
// configured out-of-band.
package cbgcpstoragestore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"time"

	"cloud.google.com/go/storage"
	"github.com/googleapis/gax-go/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
	"google.golang.org/api/option"

	"github.com/corkboard/corkboard/internal/cbstore"
)

// documentKey is the object name the board's document is stored under.
const documentKey = "corkboard.json"

type GCPStorageStore struct {
	bucket        string
	key           string
	logger        *logrus.Logger
	name          string
	storageClient *storage.Client

	// All for purposes of testability.
	storageReader func(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	storageWriter func(ctx context.Context, bucket, key string) io.WriteCloser
}

func NewGCPStorageStore(ctx context.Context, logger *logrus.Logger, serviceAccountJSON, bucket string) *GCPStorageStore { //nolint:lll
	storageClient, err := storage.NewClient(ctx, option.WithCredentialsJSON([]byte(serviceAccountJSON)))
	if err != nil {
		panic(err)
	}
	storageClient.SetRetry(
		storage.WithBackoff(gax.Backoff{
			Initial: 1 * time.Second,
			Max:     5 * time.Second,
		}),
		// Always retries, even for non-idempotent operations.
		storage.WithPolicy(storage.RetryAlways),
	)

	return &GCPStorageStore{
		bucket:        bucket,
		key:           documentKey,
		logger:        logger,
		name:          reflect.TypeOf(GCPStorageStore{}).Name(),
		storageClient: storageClient,
		storageReader: func(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
			return storageClient.Bucket(bucket).Object(key).NewReader(ctx) //nolint:wrapcheck
		},
		storageWriter: func(ctx context.Context, bucket, key string) io.WriteCloser {
			return storageClient.Bucket(bucket).Object(key).NewWriter(ctx)
		},
	}
}

func (s *GCPStorageStore) Load(ctx context.Context) (*cbstore.Document, error) {
	reader, err := s.storageReader(ctx, s.bucket, s.key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return cbstore.NewDocument(), nil
		}

		return nil, xerrors.Errorf("error getting document reader: %w", err)
	}
	defer reader.Close()

	var doc cbstore.Document
	if err := json.NewDecoder(reader).Decode(&doc); err != nil {
		// Same degradation as the file backend: a corrupt document object
		// reads as a fresh board.
		s.logger.Warnf(s.name+": Error decoding document object, starting empty: %v", err)
		return cbstore.NewDocument(), nil
	}

	doc.Normalize()
	return &doc, nil
}

func (s *GCPStorageStore) Save(ctx context.Context, doc *cbstore.Document) error {
	writer := s.storageWriter(ctx, s.bucket, s.key)

	if err := json.NewEncoder(writer).Encode(doc); err != nil {
		cbstore.SaveFailuresTotal.Inc()
		return &cbstore.PersistenceError{Err: xerrors.Errorf("error encoding document: %w", err)}
	}

	if err := writer.Close(); err != nil {
		cbstore.SaveFailuresTotal.Inc()
		return &cbstore.PersistenceError{Err: xerrors.Errorf("error closing document writer: %w", err)}
	}

	cbstore.SavesTotal.Inc()
	return nil
}
