package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	cutoff  time.Time
	deleted int64
	err     error
}

func (p *fakePurger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	p.cutoff = cutoff
	return p.deleted, p.err
}

func TestPurgeRecordsJob_Run(t *testing.T) {
	purger := &fakePurger{deleted: 12}
	job := NewPurgeRecordsJob(purger, nil, 30*24*time.Hour)

	require.NoError(t, job.Run(context.Background()))

	wantCutoff := time.Now().Add(-30 * 24 * time.Hour)
	assert.WithinDuration(t, wantCutoff, purger.cutoff, time.Minute)
}

func TestPurgeRecordsJob_DefaultRetention(t *testing.T) {
	purger := &fakePurger{}
	job := NewPurgeRecordsJob(purger, nil, 0)

	require.NoError(t, job.Run(context.Background()))

	wantCutoff := time.Now().Add(-DefaultRecordRetention)
	assert.WithinDuration(t, wantCutoff, purger.cutoff, time.Minute)
}

func TestPurgeRecordsJob_PropagatesError(t *testing.T) {
	purger := &fakePurger{err: errors.New("db down")}
	job := NewPurgeRecordsJob(purger, nil, time.Hour)

	err := job.Run(context.Background())
	assert.ErrorContains(t, err, "db down")
}
