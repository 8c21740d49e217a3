package repositories_test

import (
	"context"
	"io"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/reelside/reel-services-ingestion/internal/models/po"
	"github.com/reelside/reel-services-ingestion/internal/repositories"
)

// 守卫集合的边校验发生在触达数据库之前，终态与逆序迁移必须被直接拒绝。
func TestJobRepository_TransitionRejectsIllegalEdge(t *testing.T) {
	repo := repositories.NewJobRepository(nil, log.NewStdLogger(io.Discard))

	cases := []struct {
		name string
		from po.JobStatus
		to   po.JobStatus
	}{
		{"terminal ready", po.JobStatusReady, po.JobStatusUploading},
		{"terminal failed", po.JobStatusFailed, po.JobStatusCreated},
		{"skip upload", po.JobStatusCreated, po.JobStatusUploaded},
		{"backwards", po.JobStatusProcessing, po.JobStatusUploading},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := repo.Transition(context.Background(), nil, repositories.TransitionInput{
				JobID: uuid.New(),
				From:  []po.JobStatus{tc.from},
				To:    tc.to,
			})
			require.Error(t, err)
			require.Contains(t, err.Error(), "not allowed")
		})
	}
}

func TestCanTransitionMatchesLifecycle(t *testing.T) {
	require.True(t, po.CanTransition(po.JobStatusCreated, po.JobStatusMetaReady))
	require.True(t, po.CanTransition(po.JobStatusCreated, po.JobStatusUploadReady))
	require.True(t, po.CanTransition(po.JobStatusMetaReady, po.JobStatusUploading))
	require.True(t, po.CanTransition(po.JobStatusUploading, po.JobStatusUploaded))
	require.True(t, po.CanTransition(po.JobStatusUploaded, po.JobStatusReady))
	require.True(t, po.CanTransition(po.JobStatusProcessing, po.JobStatusFailed))

	require.False(t, po.CanTransition(po.JobStatusReady, po.JobStatusFailed))
	require.False(t, po.CanTransition(po.JobStatusFailed, po.JobStatusFailed))
	require.False(t, po.CanTransition(po.JobStatusUploaded, po.JobStatusUploading))
}
