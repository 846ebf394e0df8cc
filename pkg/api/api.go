// Package api holds the HTTP encoding shared by the coordinator's transports.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/absmach/cffl/pkg/storage"
	"github.com/absmach/supermq"
)

const (
	OffsetKey = "offset"
	LimitKey  = "limit"
	DefOffset = 0
	DefLimit  = 10

	ContentType = "application/json"

	MaxLimitSize = 100
)

var (
	// ErrValidation marks a malformed request.
	ErrValidation = errors.New("request validation failed")
	// ErrConflict marks a request the service cannot serve in its current state.
	ErrConflict = errors.New("request conflicts with current state")
	// ErrLimitSize is returned when limit exceeds MaxLimitSize.
	ErrLimitSize = errors.New("invalid limit size")
)

type errorRes struct {
	Err string `json:"error"`
}

func EncodeResponse(_ context.Context, w http.ResponseWriter, response any) error {
	if ar, ok := response.(supermq.Response); ok {
		for k, v := range ar.Headers() {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", ContentType)
		w.WriteHeader(ar.Code())

		if ar.Empty() {
			return nil
		}
	}

	return json.NewEncoder(w).Encode(response)
}

func EncodeError(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", ContentType)
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, storage.ErrEmptyKey):
		w.WriteHeader(http.StatusBadRequest)
	case errors.Is(err, storage.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, ErrConflict):
		w.WriteHeader(http.StatusConflict)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}

	_ = json.NewEncoder(w).Encode(errorRes{Err: err.Error()})
}

// ReadUintQuery reads an unsigned query parameter, returning def when absent.
func ReadUintQuery(r *http.Request, key string, def uint64) (uint64, error) {
	vals := r.URL.Query()[key]
	if len(vals) == 0 || vals[0] == "" {
		return def, nil
	}
	if len(vals) > 1 {
		return 0, errors.Join(ErrValidation, errors.New("query parameter "+key+" given more than once"))
	}

	v, err := strconv.ParseUint(vals[0], 10, 64)
	if err != nil {
		return 0, errors.Join(ErrValidation, err)
	}

	return v, nil
}
