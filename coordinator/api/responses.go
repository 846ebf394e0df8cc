package api

import (
	"net/http"

	"github.com/absmach/cffl/coordinator"
	"github.com/absmach/supermq"
)

var (
	_ supermq.Response = (*statusResponse)(nil)
	_ supermq.Response = (*creditsResponse)(nil)
	_ supermq.Response = (*roundResponse)(nil)
	_ supermq.Response = (*listRoundsResponse)(nil)
	_ supermq.Response = (*reportResponse)(nil)
)

type statusResponse struct {
	coordinator.Status
}

func (r statusResponse) Code() int {
	return http.StatusOK
}

func (r statusResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r statusResponse) Empty() bool {
	return false
}

type creditsResponse struct {
	Round     int       `json:"round"`
	Credits   []float64 `json:"credits"`
	Threshold float64   `json:"threshold"`
	Qualified int       `json:"qualified"`
}

func (r creditsResponse) Code() int {
	return http.StatusOK
}

func (r creditsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r creditsResponse) Empty() bool {
	return false
}

type roundResponse struct {
	coordinator.RoundRecord
}

func (r roundResponse) Code() int {
	return http.StatusOK
}

func (r roundResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r roundResponse) Empty() bool {
	return false
}

type listRoundsResponse struct {
	coordinator.RoundPage
}

func (r listRoundsResponse) Code() int {
	return http.StatusOK
}

func (r listRoundsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r listRoundsResponse) Empty() bool {
	return false
}

type reportResponse struct {
	coordinator.Report
}

func (r reportResponse) Code() int {
	return http.StatusOK
}

func (r reportResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r reportResponse) Empty() bool {
	return false
}
