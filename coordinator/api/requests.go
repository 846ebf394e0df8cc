package api

import (
	"errors"

	"github.com/absmach/cffl/pkg/api"
)

var errNegativeRound = errors.New("round must not be negative")

type emptyReq struct{}

type roundReq struct {
	round int
}

func (r roundReq) validate() error {
	if r.round < 0 {
		return errNegativeRound
	}

	return nil
}

type listRoundsReq struct {
	offset, limit uint64
}

func (r listRoundsReq) validate() error {
	if r.limit == 0 || r.limit > api.MaxLimitSize {
		return api.ErrLimitSize
	}

	return nil
}
