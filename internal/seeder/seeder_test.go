package seeder_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funneltrack/internal/funnels"
	"funneltrack/internal/seeder"
	"funneltrack/internal/testsupport"
	"funneltrack/internal/tracking"
)

func TestSeederRun(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	s := seeder.NewSeeder(dbManager, logger, 60)
	require.NoError(t, s.Run(context.Background()))

	var funnelCount int64
	db.Model(&funnels.Funnel{}).Count(&funnelCount)
	assert.Equal(t, int64(2), funnelCount)

	var events []tracking.TrackingEvent
	require.NoError(t, db.Find(&events).Error)
	require.NotEmpty(t, events)

	oldest := time.Now().UTC().AddDate(0, 0, -31)
	for _, event := range events {
		assert.True(t, event.CreatedAt.After(oldest), "event %d at %s", event.ID, event.CreatedAt)
		assert.NotNil(t, event.StepID)
		assert.NotEmpty(t, event.SessionID)
	}

	t.Run("visitors never grow along a funnel", func(t *testing.T) {
		var rows []struct {
			FunnelID  uint
			StepOrder int
			Visitors  int64
		}
		require.NoError(t, db.Raw(`
			SELECT fs.funnel_id, fs.step_order, COUNT(DISTINCT te.session_id) AS visitors
			FROM funnel_steps fs
			LEFT JOIN tracking_events te ON te.step_id = fs.id
			GROUP BY fs.funnel_id, fs.step_order
			ORDER BY fs.funnel_id, fs.step_order
		`).Scan(&rows).Error)

		previous := map[uint]int64{}
		for _, row := range rows {
			if last, ok := previous[row.FunnelID]; ok {
				assert.LessOrEqual(t, row.Visitors, last)
			}
			previous[row.FunnelID] = row.Visitors
		}
	})

	t.Run("running again reuses the funnels", func(t *testing.T) {
		require.NoError(t, seeder.NewSeeder(dbManager, logger, 5).Run(context.Background()))

		db.Model(&funnels.Funnel{}).Count(&funnelCount)
		assert.Equal(t, int64(2), funnelCount)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, seeder.NewSeeder(dbManager, logger, 5).Run(ctx), context.Canceled)
	})
}
