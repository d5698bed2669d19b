package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/jdziat/simple-scheduled-mail/pkg/core"
	"github.com/jdziat/simple-scheduled-mail/pkg/queue"
	"github.com/jdziat/simple-scheduled-mail/pkg/storage"
)

func TestCollector_Observe(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.Observe(&core.ItemScheduled{Item: &core.ScheduledItem{Recurrence: core.RecurrenceDaily}})
	c.Observe(&core.ItemScheduled{Item: &core.ScheduledItem{}})
	c.Observe(&core.ItemSent{Item: &core.ScheduledItem{}, Duration: 20 * time.Millisecond})
	c.Observe(&core.ItemRetrying{Item: &core.ScheduledItem{}})
	c.Observe(&core.ItemRetrying{Item: &core.ScheduledItem{}})
	c.Observe(&core.ItemFailed{Item: &core.ScheduledItem{}})
	c.Observe(&core.ItemCancelled{ItemID: "x"})
	c.Observe(&core.ClaimConflict{ItemID: "x"})
	c.Observe(&core.ItemDispatching{Item: &core.ScheduledItem{}})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.scheduled.WithLabelValues("daily")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.scheduled.WithLabelValues("none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sent))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.retried))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cancelled))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.conflicts))
	assert.Equal(t, 1, testutil.CollectAndCount(c.dispatchDuration))
}

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.Observe(&core.ItemScheduled{Item: &core.ScheduledItem{Recurrence: core.RecurrenceWeekly}})

	n, err := testutil.GatherAndCount(reg, "schedmail_items_scheduled_total", "schedmail_items_sent_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Panics(t, func() { New(reg) })
}

func TestCollector_RunFollowsQueue(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "metrics.db"), logger.Silent)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	store := storage.NewGormStorage(db)
	require.NoError(t, store.Migrate(context.Background()))

	q := queue.New(store)
	c := New(prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, q)
		close(done)
	}()

	// Run subscribes asynchronously; keep scheduling until it is counted.
	require.Eventually(t, func() bool {
		_, err := q.Schedule(context.Background(), queue.Request{
			Recipient:    "user@example.com",
			Subject:      "s",
			Body:         "b",
			ScheduleTime: time.Now().Add(time.Hour),
		})
		require.NoError(t, err)
		return testutil.ToFloat64(c.scheduled.WithLabelValues("none")) >= 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}
