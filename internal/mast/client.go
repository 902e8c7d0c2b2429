// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package mast queries the MAST archive for observations and their data products,
// and maps products to their locations in the public HST bucket.
package mast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Archive query criteria. Empty fields are not constrained
type Criteria struct {
	ObsCollection   string
	DataproductType string
	InstrumentName  string
	Filters         []string
	ProposalIDs     []string
}

// A column filter in the MAST request format
type filter struct {
	ParamName string   `json:"paramName"`
	Values    []string `json:"values"`
}

func (c Criteria) filters() []filter {
	var fs []filter
	add := func(name string, values ...string) {
		var vs []string
		for _, v := range values {
			if v != "" {
				vs = append(vs, v)
			}
		}
		if len(vs) > 0 {
			fs = append(fs, filter{ParamName: name, Values: vs})
		}
	}
	add("obs_collection", c.ObsCollection)
	add("dataproduct_type", c.DataproductType)
	add("instrument_name", c.InstrumentName)
	add("filters", c.Filters...)
	add("proposal_id", c.ProposalIDs...)
	return fs
}

// One observation matching a query
type Observation struct {
	ID    string // Numeric observation identifier used for product lookups
	ObsID string // Dataset name, e.g. j8xi01abq
}

// One data product of an observation
type Product struct {
	ObsID           string
	ProductFilename string
	Subgroup        string // Product subgroup description, e.g. FLT
	DataURI         string
	Size            int64

	// All columns as returned by the archive, for filter expressions
	Fields map[string]interface{}
}

// A MAST API client
type Client struct {
	URL      string
	PageSize int
	HTTP     *http.Client

	// Status checks of a query still executing on the server, and the wait between them
	PollAttempts int
	PollInterval time.Duration

	logger *slog.Logger
}

// Number of observation IDs per product list request
const productBatchSize = 50

// NewClient creates a client for the MAST invoke endpoint at the given URL
func NewClient(url string, pageSize int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		URL:          url,
		PageSize:     pageSize,
		HTTP:         &http.Client{Timeout: 5 * time.Minute},
		PollAttempts: 60,
		PollInterval: 2 * time.Second,
		logger:       logger,
	}
}

type request struct {
	Service  string      `json:"service"`
	Format   string      `json:"format"`
	Params   interface{} `json:"params"`
	Page     int         `json:"page"`
	PageSize int         `json:"pagesize"`
}

// QueryCriteria returns the observations matching the criteria
func (c *Client) QueryCriteria(ctx context.Context, criteria Criteria) ([]Observation, error) {
	params := map[string]interface{}{
		"columns": "*",
		"filters": criteria.filters(),
	}
	rows, err := c.invoke(ctx, "Mast.Caom.Filtered", params)
	if err != nil {
		return nil, err
	}
	obs := make([]Observation, 0, len(rows))
	for _, row := range rows {
		obs = append(obs, Observation{ID: row.Get("obsid").String(), ObsID: row.Get("obs_id").String()})
	}
	c.logger.Info("observations found", "count", len(obs))
	return obs, nil
}

// ProductList returns the data products of the given observations
func (c *Client) ProductList(ctx context.Context, obs []Observation) ([]Product, error) {
	var products []Product
	for start := 0; start < len(obs); start += productBatchSize {
		end := min(start+productBatchSize, len(obs))
		ids := make([]string, 0, end-start)
		for _, o := range obs[start:end] {
			ids = append(ids, o.ID)
		}
		rows, err := c.invoke(ctx, "Mast.Caom.Products", map[string]interface{}{"obsid": strings.Join(ids, ",")})
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			products = append(products, newProduct(row))
		}
	}
	c.logger.Info("products found", "count", len(products))
	return products, nil
}

func newProduct(row gjson.Result) Product {
	fields, _ := row.Value().(map[string]interface{})
	return Product{
		ObsID:           row.Get("obs_id").String(),
		ProductFilename: row.Get("productFilename").String(),
		Subgroup:        row.Get("productSubGroupDescription").String(),
		DataURI:         row.Get("dataURI").String(),
		Size:            row.Get("size").Int(),
		Fields:          fields,
	}
}

// Calls the service and returns the data rows of all pages
func (c *Client) invoke(ctx context.Context, service string, params interface{}) ([]gjson.Result, error) {
	var rows []gjson.Result
	for page := 1; ; page++ {
		res, err := c.page(ctx, service, params, page)
		if err != nil {
			return nil, err
		}
		rows = append(rows, res.Get("data").Array()...)
		pages := res.Get("paging.pagesFiltered").Int()
		if int64(page) >= pages {
			return rows, nil
		}
	}
}

// Requests one page, waiting while the server reports the query as executing
func (c *Client) page(ctx context.Context, service string, params interface{}, page int) (gjson.Result, error) {
	for attempt := 0; ; attempt++ {
		res, err := c.post(ctx, request{Service: service, Format: "json", Params: params, Page: page, PageSize: c.PageSize})
		if err != nil {
			return res, err
		}
		switch status := res.Get("status").String(); status {
		case "COMPLETE", "":
			return res, nil
		case "EXECUTING":
			if attempt+1 >= c.PollAttempts {
				return res, fmt.Errorf("%s: still executing after %d status checks", service, c.PollAttempts)
			}
			c.logger.Debug("query executing", "service", service, "page", page)
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(c.PollInterval):
			}
		default:
			return res, fmt.Errorf("%s: status %s: %s", service, status, res.Get("msg").String())
		}
	}
}

func (c *Client) post(ctx context.Context, req request) (gjson.Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return gjson.Result{}, err
	}
	form := url.Values{"request": {string(body)}}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return gjson.Result{}, err
	}
	hreq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	hreq.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(hreq)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: %w", req.Service, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: reading response: %w", req.Service, err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("%s: %s", req.Service, resp.Status)
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("%s: response is not valid JSON", req.Service)
	}
	return gjson.ParseBytes(data), nil
}
