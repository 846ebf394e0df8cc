package sdk_test

import (
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/absmach/cffl/coordinator"
	"github.com/absmach/cffl/coordinator/api"
	"github.com/absmach/cffl/coordinator/mocks"
	"github.com/absmach/cffl/pkg/sdk"
	"github.com/absmach/cffl/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newSDK(t *testing.T) (sdk.SDK, *mocks.Service) {
	t.Helper()

	svc := new(mocks.Service)
	ts := httptest.NewServer(api.MakeHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)), "test"))
	t.Cleanup(ts.Close)

	return sdk.NewSDK(sdk.Config{CoordinatorURL: ts.URL}), svc
}

func TestStatusAndCredits(t *testing.T) {
	s, svc := newSDK(t)
	st := coordinator.Status{
		RunID:     "run",
		State:     coordinator.StateTraining,
		Round:     4,
		Rounds:    10,
		Credits:   []float64{0.6, 0.4},
		Threshold: 0.2,
		Qualified: 2,
	}
	svc.On("Status", mock.Anything).Return(st, nil)

	got, err := s.Status()
	require.NoError(t, err)
	assert.Equal(t, st, got)

	credits, err := s.Credits()
	require.NoError(t, err)
	assert.Equal(t, sdk.Credits{Round: 4, Credits: []float64{0.6, 0.4}, Threshold: 0.2, Qualified: 2}, credits)
}

func TestRounds(t *testing.T) {
	s, svc := newSDK(t)
	rec := coordinator.RoundRecord{RunID: "run", Round: 2, Credits: []float64{1}, SharingLedger: []int{0}}
	svc.On("GetRound", mock.Anything, 2).Return(rec, nil)
	svc.On("GetRound", mock.Anything, 5).Return(coordinator.RoundRecord{}, fmt.Errorf("round-000005: %w", storage.ErrNotFound))
	svc.On("ListRounds", mock.Anything, uint64(2), uint64(3)).Return(coordinator.RoundPage{Offset: 2, Limit: 3, Total: 3, Rounds: []coordinator.RoundRecord{rec}}, nil)

	got, err := s.GetRound(2)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = s.GetRound(5)
	assert.ErrorIs(t, err, sdk.ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "404")

	page, err := s.ListRounds(2, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), page.Total)
	require.Len(t, page.Rounds, 1)
	assert.Equal(t, rec, page.Rounds[0])
}

func TestReport(t *testing.T) {
	s, svc := newSDK(t)
	svc.On("Report", mock.Anything).Return(coordinator.Report{}, fmt.Errorf("%w: run has not finished", coordinator.ErrInvalidState)).Once()
	svc.On("Report", mock.Anything).Return(coordinator.Report{RunID: "run", Rounds: 3}, nil).Once()

	_, err := s.Report()
	assert.ErrorIs(t, err, sdk.ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "409")

	report, err := s.Report()
	require.NoError(t, err)
	assert.Equal(t, 3, report.Rounds)
}
