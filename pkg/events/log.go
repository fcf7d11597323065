package events

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/3leaps/blobsync/pkg/output"
)

// LogObserver writes events to a zap logger.
type LogObserver struct {
	Logger *zap.Logger
}

// NewLogObserver returns an observer logging through logger.
func NewLogObserver(logger *zap.Logger) *LogObserver {
	return &LogObserver{Logger: logger}
}

func (l *LogObserver) Observe(_ context.Context, e Event) {
	if l.Logger == nil {
		return
	}
	fields := []zap.Field{zap.String("event", string(e.Type))}
	if e.Container != "" {
		fields = append(fields, zap.String("container", e.Container))
	}
	if e.Side != "" {
		fields = append(fields, zap.String("side", string(e.Side)))
	}
	if e.Name != "" {
		fields = append(fields, zap.String("name", e.Name))
	}

	msg := string(e.Type)
	level := zapcore.InfoLevel
	switch e.Type {
	case SyncStarted:
		msg = "Sync started"
		fields = append(fields, zap.Int("objects", e.Count))
	case SyncFinished:
		msg = "Sync finished"
		fields = append(fields, zap.Int("objects", e.Count))
	case ContainerCreated:
		msg = "Destination container created"
	case ListingStarted:
		msg = "Listing started"
	case ListingSegment:
		msg = "Listing segment received"
		level = zapcore.DebugLevel
		fields = append(fields, zap.Int("total", e.Count))
	case ListingFinished:
		msg = "Listing finished"
		fields = append(fields, zap.Int("total", e.Count))
	case OverwriteSkipped:
		msg = "Skipping overwrite of fresh object"
		level = zapcore.DebugLevel
	case TokenIssued:
		msg = "Read token issued"
		fields = append(fields, zap.Time("expiry", e.Expiry))
	case MetadataSetting:
		msg = "Setting metadata"
		level = zapcore.DebugLevel
		fields = append(fields, zap.String("src_etag", e.ETag))
	case CopyStarted:
		msg = "Starting copy"
		level = zapcore.DebugLevel
	case CopyFinished:
		msg = "Copy started"
	case DeleteStarted:
		msg = "Starting delete"
		level = zapcore.DebugLevel
	case DeleteFinished:
		msg = "Delete finished"
		fields = append(fields, zap.Bool("existed", e.Existed))
	case ItemFailed:
		msg = "Item failed"
		level = zapcore.WarnLevel
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}
	l.Logger.Log(level, msg, fields...)
}

// JSONLObserver writes events as blobsync.event.v1 records. Write errors
// are dropped; the stream is diagnostic.
type JSONLObserver struct {
	Writer output.Writer
}

func (j *JSONLObserver) Observe(ctx context.Context, e Event) {
	if j.Writer == nil {
		return
	}
	rec := &output.EventRecord{
		Event:     string(e.Type),
		Container: e.Container,
		Side:      string(e.Side),
		Name:      e.Name,
		Count:     e.Count,
		ETag:      e.ETag,
	}
	if !e.Expiry.IsZero() {
		expiry := e.Expiry
		rec.Expiry = &expiry
	}
	if e.Type == DeleteFinished {
		existed := e.Existed
		rec.Existed = &existed
	}
	if e.Err != nil {
		rec.Error = e.Err.Error()
	}
	_ = j.Writer.WriteEvent(ctx, rec)
}
