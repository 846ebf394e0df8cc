package api

import (
	"context"
	"errors"

	"github.com/absmach/cffl/coordinator"
	"github.com/absmach/cffl/pkg/api"
	"github.com/go-kit/kit/endpoint"
)

var errInvalidRequest = errors.New("invalid request type")

func statusEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		st, err := svc.Status(ctx)
		if err != nil {
			return statusResponse{}, err
		}

		return statusResponse{Status: st}, nil
	}
}

func creditsEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		st, err := svc.Status(ctx)
		if err != nil {
			return creditsResponse{}, err
		}

		return creditsResponse{
			Round:     st.Round,
			Credits:   st.Credits,
			Threshold: st.Threshold,
			Qualified: st.Qualified,
		}, nil
	}
}

func getRoundEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(roundReq)
		if !ok {
			return roundResponse{}, errors.Join(api.ErrValidation, errInvalidRequest)
		}
		if err := req.validate(); err != nil {
			return roundResponse{}, errors.Join(api.ErrValidation, err)
		}

		rec, err := svc.GetRound(ctx, req.round)
		if err != nil {
			return roundResponse{}, err
		}

		return roundResponse{RoundRecord: rec}, nil
	}
}

func listRoundsEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listRoundsReq)
		if !ok {
			return listRoundsResponse{}, errors.Join(api.ErrValidation, errInvalidRequest)
		}
		if err := req.validate(); err != nil {
			return listRoundsResponse{}, errors.Join(api.ErrValidation, err)
		}

		page, err := svc.ListRounds(ctx, req.offset, req.limit)
		if err != nil {
			return listRoundsResponse{}, err
		}

		return listRoundsResponse{RoundPage: page}, nil
	}
}

func reportEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		report, err := svc.Report(ctx)
		if err != nil {
			return reportResponse{}, err
		}

		return reportResponse{Report: report}, nil
	}
}
