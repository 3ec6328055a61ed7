package store

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/safe-notify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTransition(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		status    domain.Status
		nextRetry time.Time
		from, to  domain.Status
		wantErr   error
	}{
		{name: "claim pending", status: domain.StatusPending, nextRetry: now, from: domain.StatusPending, to: domain.StatusProcessing},
		{name: "claim failed when due", status: domain.StatusFailed, nextRetry: now.Add(-time.Second), from: domain.StatusFailed, to: domain.StatusProcessing},
		{name: "claim before eligibility", status: domain.StatusFailed, nextRetry: now.Add(time.Second), from: domain.StatusFailed, to: domain.StatusProcessing, wantErr: ErrConflict},
		{name: "stale expected status", status: domain.StatusSent, nextRetry: now, from: domain.StatusProcessing, to: domain.StatusFailed, wantErr: ErrConflict},
		{name: "illegal edge", status: domain.StatusSent, nextRetry: now, from: domain.StatusSent, to: domain.StatusPending, wantErr: domain.ErrInvalidTransition},
		{name: "replay", status: domain.StatusDLQ, nextRetry: now.Add(time.Hour), from: domain.StatusDLQ, to: domain.StatusPending},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			task := &domain.Task{ID: uuid.New(), Status: tc.status, NextRetryAt: tc.nextRetry}
			err := CheckTransition(task, tc.from, tc.to, now)
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tc.wantErr), "expected %v, got %v", tc.wantErr, err)
		})
	}
}
