// Package audit provides an optional sqlite-backed record of topic join and
// disconnect events, for hosts that want a persisted history of client
// churn without adding anything to the hot publish path. It mirrors tvarr's
// GORM-over-SQLite persistence layer, scaled down to a single table.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mpago/mpago/internal/observability"
)

// Event is one join or disconnect on a topic.
type Event struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	OccurredAt   time.Time `gorm:"index"`
	Topic        string    `gorm:"index"`
	SlotIndex    int
	BaseName     string
	AssignedName string
	Kind         string `gorm:"index"` // "join" or "disconnect"
}

func (Event) TableName() string { return "audit_events" }

// Store is an async-write sink for join/disconnect events. Writes never
// block the caller: Record enqueues onto a buffered channel and a single
// background worker flushes to sqlite, so a slow disk never backs up onto a
// topic's slot mutex (spec's "producer never blocks" carried over to this
// supplemental feature).
type Store struct {
	db  *gorm.DB
	log *slog.Logger

	events chan Event
	done   chan struct{}
}

// Open opens (creating if necessary) a sqlite-backed audit store at dsn and
// starts its background writer. Callers must call Close on shutdown.
func Open(dsn string, log *slog.Logger) (*Store, error) {
	gormCfg := &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	}
	db, err := gorm.Open(sqlite.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}

	s := &Store{
		db:     db,
		log:    observability.WithComponent(log, "audit"),
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for ev := range s.events {
		if err := s.db.Create(&ev).Error; err != nil {
			s.log.Warn("failed to persist audit event", slog.String("kind", ev.Kind), slog.String("error", err.Error()))
		}
	}
}

// Record enqueues an event for async persistence. It never blocks: if the
// queue is full the event is dropped and logged, matching the backpressure
// discipline the rest of this module applies to client writes.
func (s *Store) Record(topic string, slotIndex int, baseName, assignedName, kind string) {
	ev := Event{
		OccurredAt:   time.Now(),
		Topic:        topic,
		SlotIndex:    slotIndex,
		BaseName:     baseName,
		AssignedName: assignedName,
		Kind:         kind,
	}
	select {
	case s.events <- ev:
	default:
		s.log.Warn("audit queue full, dropping event", slog.String("topic", topic), slog.String("kind", kind))
	}
}

// Recent returns the most recent events for a topic, newest first.
func (s *Store) Recent(ctx context.Context, topic string, limit int) ([]Event, error) {
	var events []Event
	q := s.db.WithContext(ctx).Order("occurred_at DESC")
	if topic != "" {
		q = q.Where("topic = ?", topic)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	return events, nil
}

// Close stops the background writer, draining whatever is already queued.
func (s *Store) Close() error {
	close(s.events)
	<-s.done
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
