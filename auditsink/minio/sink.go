// Package minio archives audit events to an S3-compatible bucket. Events
// are buffered and written as JSON-lines objects named
// <prefix>/YYYY/MM/DD/<uuid>.jsonl.
package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	minioLib "github.com/minio/minio-go/v7"

	"github.com/brewline/cafeauth"
)

// objectAPI is the subset of *minio.Client the sink needs.
type objectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minioLib.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minioLib.PutObjectOptions) (minioLib.UploadInfo, error)
}

type Config struct {
	Bucket string
	Prefix string
	// BatchSize is the number of events per object.
	BatchSize int
	// FlushInterval uploads a partial batch after this long. Zero disables
	// timed flushes.
	FlushInterval time.Duration
	// UploadTimeout bounds a single PutObject.
	UploadTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = "audit"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 10 * time.Second
	}
	return c
}

var _ cafeauth.AuditSink = (*Sink)(nil)

type Sink struct {
	api    objectAPI
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending [][]byte

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates the sink over a real client, creating the bucket if needed.
func New(ctx context.Context, client *minioLib.Client, cfg Config, logger *slog.Logger) (*Sink, error) {
	return newSink(ctx, client, cfg, logger)
}

func newSink(ctx context.Context, api objectAPI, cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("auditsink: bucket required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sink{
		api:    api,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	if s.cfg.FlushInterval > 0 {
		s.wg.Add(1)
		go s.flushLoop()
	}
	return s, nil
}

func (s *Sink) ensureBucket(ctx context.Context) error {
	exists, err := s.api.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("auditsink: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.api.MakeBucket(ctx, s.cfg.Bucket, minioLib.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("auditsink: create bucket: %w", err)
	}
	return nil
}

// Emit buffers event and uploads once a batch is full.
func (s *Sink) Emit(ctx context.Context, event cafeauth.AuditEvent) {
	line, err := json.Marshal(event)
	if err != nil {
		s.logger.WarnContext(ctx, "audit event encode failed", "error", err)
		return
	}

	s.mu.Lock()
	s.pending = append(s.pending, line)
	var batch [][]byte
	if len(s.pending) >= s.cfg.BatchSize {
		batch = s.pending
		s.pending = nil
	}
	s.mu.Unlock()

	if batch != nil {
		_ = s.upload(ctx, batch)
	}
}

// Flush uploads whatever is buffered.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return s.upload(ctx, batch)
}

// Close stops the timed flush and uploads the remaining events.
func (s *Sink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return s.Flush(ctx)
}

func (s *Sink) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.Flush(context.Background())
		}
	}
}

func (s *Sink) upload(ctx context.Context, batch [][]byte) error {
	body := bytes.Join(batch, []byte{'\n'})
	body = append(body, '\n')

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.UploadTimeout)
	defer cancel()

	name := s.objectName()
	_, err := s.api.PutObject(ctx, s.cfg.Bucket, name, bytes.NewReader(body), int64(len(body)), minioLib.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		s.logger.WarnContext(ctx, "audit archive upload failed", "object", name, "events", len(batch), "error", err)
		return fmt.Errorf("auditsink: upload %s: %w", name, err)
	}
	return nil
}

func (s *Sink) objectName() string {
	day := s.now().UTC().Format("2006/01/02")
	return path.Join(s.cfg.Prefix, day, uuid.NewString()+".jsonl")
}
