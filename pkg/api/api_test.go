package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/absmach/cffl/pkg/api"
	"github.com/absmach/cffl/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		desc   string
		err    error
		status int
	}{
		{desc: "validation", err: errors.Join(api.ErrValidation, errors.New("bad")), status: http.StatusBadRequest},
		{desc: "empty key", err: storage.ErrEmptyKey, status: http.StatusBadRequest},
		{desc: "not found", err: fmt.Errorf("round 3: %w", storage.ErrNotFound), status: http.StatusNotFound},
		{desc: "conflict", err: errors.Join(api.ErrConflict, errors.New("busy")), status: http.StatusConflict},
		{desc: "other", err: errors.New("boom"), status: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			api.EncodeError(context.Background(), tc.err, rec)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, api.ContentType, rec.Header().Get("Content-Type"))

			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tc.err.Error(), body["error"])
		})
	}
}

func TestReadUintQuery(t *testing.T) {
	t.Parallel()

	cases := []struct {
		desc  string
		query string
		want  uint64
		err   error
	}{
		{desc: "absent", query: "", want: 7},
		{desc: "present", query: "limit=25", want: 25},
		{desc: "negative", query: "limit=-1", err: api.ErrValidation},
		{desc: "not a number", query: "limit=ten", err: api.ErrValidation},
		{desc: "repeated", query: "limit=1&limit=2", err: api.ErrValidation},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest(http.MethodGet, "/rounds?"+tc.query, nil)
			got, err := api.ReadUintQuery(r, api.LimitKey, 7)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
