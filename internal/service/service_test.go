package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gorm.io/gorm"

	"github.com/qs3c/anno_train_server/internal/pkg/pubsub"
	"github.com/qs3c/anno_train_server/internal/pkg/queue"
	"github.com/qs3c/anno_train_server/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []*pubsub.Event
}

func (r *recorder) Publish(_ context.Context, ev *pubsub.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type brokenQueue struct{}

func (brokenQueue) Push(context.Context, *queue.JobMessage) error {
	return errors.New("redis: connection refused")
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	return db
}

func setupQueue(t *testing.T) *queue.Queue {
	t.Helper()
	return testutil.SetupTestQueue(t)
}
