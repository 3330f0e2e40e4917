// Package cbs3store implements cbstore's DocumentStore on any S3-compatible
// object store (MinIO, AWS S3, and friends). Like the GCS backend it keeps
// the whole board in a single JSON object replaced on every save.
package cbs3store

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"reflect"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/corkboard/corkboard/internal/cbstore"
)

// documentKey is the object name the board's document is stored under.
const documentKey = "corkboard.json"

type S3Store struct {
	bucket string
	client *minio.Client
	key    string
	logger *logrus.Logger
	name   string

	// All for purposes of testability.
	getObject func(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	putObject func(ctx context.Context, bucket, key string, data []byte) error
}

func NewS3Store(logger *logrus.Logger, endpoint, accessKey, secretKey, bucket string, useSSL bool) *S3Store {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		panic(err)
	}

	return &S3Store{
		bucket: bucket,
		client: client,
		key:    documentKey,
		logger: logger,
		name:   reflect.TypeOf(S3Store{}).Name(),
		getObject: func(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
			return client.GetObject(ctx, bucket, key, minio.GetObjectOptions{}) //nolint:wrapcheck
		},
		putObject: func(ctx context.Context, bucket, key string, data []byte) error {
			_, err := client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
				minio.PutObjectOptions{ContentType: "application/json"})
			return err //nolint:wrapcheck
		},
	}
}

func (s *S3Store) Load(ctx context.Context) (*cbstore.Document, error) {
	reader, err := s.getObject(ctx, s.bucket, s.key)
	if err != nil {
		return nil, xerrors.Errorf("error getting document object: %w", err)
	}
	defer reader.Close()

	// GetObject is lazy; a missing key only surfaces once reading starts.
	data, err := io.ReadAll(reader)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return cbstore.NewDocument(), nil
		}

		return nil, xerrors.Errorf("error reading document object: %w", err)
	}

	var doc cbstore.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warnf(s.name+": Error decoding document object, starting empty: %v", err)
		return cbstore.NewDocument(), nil
	}

	doc.Normalize()
	return &doc, nil
}

func (s *S3Store) Save(ctx context.Context, doc *cbstore.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		cbstore.SaveFailuresTotal.Inc()
		return &cbstore.PersistenceError{Err: xerrors.Errorf("error marshaling document: %w", err)}
	}

	if err := s.putObject(ctx, s.bucket, s.key, data); err != nil {
		cbstore.SaveFailuresTotal.Inc()
		return &cbstore.PersistenceError{Err: xerrors.Errorf("error putting document object: %w", err)}
	}

	cbstore.SavesTotal.Inc()
	return nil
}
