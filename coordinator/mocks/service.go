package mocks

import (
	"context"

	"github.com/absmach/cffl/coordinator"
	"github.com/absmach/cffl/pkg/fl"
	"github.com/stretchr/testify/mock"
)

var _ coordinator.Service = (*Service)(nil)

type Service struct {
	mock.Mock
}

func (m *Service) Pretrain(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *Service) Initialize(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *Service) RunRound(ctx context.Context) (coordinator.RoundRecord, error) {
	args := m.Called(ctx)

	return args.Get(0).(coordinator.RoundRecord), args.Error(1)
}

func (m *Service) Finish(ctx context.Context) (coordinator.Report, error) {
	args := m.Called(ctx)

	return args.Get(0).(coordinator.Report), args.Error(1)
}

func (m *Service) Resume(ctx context.Context, cp fl.Checkpoint) error {
	args := m.Called(ctx, cp)

	return args.Error(0)
}

func (m *Service) Status(ctx context.Context) (coordinator.Status, error) {
	args := m.Called(ctx)

	return args.Get(0).(coordinator.Status), args.Error(1)
}

func (m *Service) GetRound(ctx context.Context, round int) (coordinator.RoundRecord, error) {
	args := m.Called(ctx, round)

	return args.Get(0).(coordinator.RoundRecord), args.Error(1)
}

func (m *Service) ListRounds(ctx context.Context, offset, limit uint64) (coordinator.RoundPage, error) {
	args := m.Called(ctx, offset, limit)

	return args.Get(0).(coordinator.RoundPage), args.Error(1)
}

func (m *Service) Report(ctx context.Context) (coordinator.Report, error) {
	args := m.Called(ctx)

	return args.Get(0).(coordinator.Report), args.Error(1)
}
