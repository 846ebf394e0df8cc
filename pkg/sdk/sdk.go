// Package sdk is a client for the coordinator's HTTP API.
package sdk

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/absmach/cffl/coordinator"
)

const (
	CTJSON string = "application/json"

	statusEndpoint  = "/status"
	creditsEndpoint = "/credits"
	roundsEndpoint  = "/rounds"
	reportEndpoint  = "/report"
)

// ErrUnexpectedStatus is returned for any response code other than the expected one.
var ErrUnexpectedStatus = errors.New("unexpected response code")

type Credits struct {
	Round     int       `json:"round"`
	Credits   []float64 `json:"credits"`
	Threshold float64   `json:"threshold"`
	Qualified int       `json:"qualified"`
}

type SDK interface {
	// Status returns the state of the active run.
	//
	// example:
	//  st, _ := sdk.Status()
	//  fmt.Println(st.State, st.Round)
	Status() (coordinator.Status, error)

	// Credits returns the committed credits and threshold.
	//
	// example:
	//  c, _ := sdk.Credits()
	//  fmt.Println(c.Credits)
	Credits() (Credits, error)

	// GetRound returns one round record.
	//
	// example:
	//  rec, _ := sdk.GetRound(3)
	//  fmt.Println(rec.FederatedValAcc)
	GetRound(round int) (coordinator.RoundRecord, error)

	// ListRounds pages through round records in round order.
	//
	// example:
	//  page, _ := sdk.ListRounds(0, 10)
	//  fmt.Println(page.Total)
	ListRounds(offset, limit uint64) (coordinator.RoundPage, error)

	// Report returns the final report once the run has finished.
	Report() (coordinator.Report, error)
}

type cfflSDK struct {
	coordinatorURL string
	client         *http.Client
}

type Config struct {
	CoordinatorURL  string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &cfflSDK{
		coordinatorURL: cfg.CoordinatorURL,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

func (sdk *cfflSDK) Status() (coordinator.Status, error) {
	var st coordinator.Status
	err := sdk.get(sdk.coordinatorURL+statusEndpoint, &st)

	return st, err
}

func (sdk *cfflSDK) Credits() (Credits, error) {
	var c Credits
	err := sdk.get(sdk.coordinatorURL+creditsEndpoint, &c)

	return c, err
}

func (sdk *cfflSDK) GetRound(round int) (coordinator.RoundRecord, error) {
	var rec coordinator.RoundRecord
	err := sdk.get(sdk.coordinatorURL+roundsEndpoint+"/"+strconv.Itoa(round), &rec)

	return rec, err
}

func (sdk *cfflSDK) ListRounds(offset, limit uint64) (coordinator.RoundPage, error) {
	query := url.Values{}
	if offset > 0 {
		query.Set("offset", strconv.FormatUint(offset, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.FormatUint(limit, 10))
	}

	reqURL := sdk.coordinatorURL + roundsEndpoint
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var page coordinator.RoundPage
	err := sdk.get(reqURL, &page)

	return page, err
}

func (sdk *cfflSDK) Report() (coordinator.Report, error) {
	var report coordinator.Report
	err := sdk.get(sdk.coordinatorURL+reportEndpoint, &report)

	return report, err
}

func (sdk *cfflSDK) get(reqURL string, v any) error {
	body, err := sdk.processRequest(http.MethodGet, reqURL, nil, http.StatusOK)
	if err != nil {
		return err
	}

	return json.Unmarshal(body, v)
}

func (sdk *cfflSDK) processRequest(method, reqURL string, data []byte, expectedRespCode int) ([]byte, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	req.Header.Add("Content-Type", CTJSON)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode != expectedRespCode {
		var apiErr struct {
			Err string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Err != "" {
			return []byte{}, fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, apiErr.Err)
		}

		return []byte{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	return body, nil
}
