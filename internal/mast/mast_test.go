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

package mast

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// Fakes the MAST invoke endpoint. Observations are served two per page
type fakeMAST struct {
	mu        sync.Mutex
	requests  []gjson.Result
	executing int // number of EXECUTING responses before completing
}

func (f *fakeMAST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req := gjson.Parse(r.PostForm.Get("request"))
	f.mu.Lock()
	f.requests = append(f.requests, req)
	executing := f.executing > 0
	if executing {
		f.executing--
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if executing {
		fmt.Fprint(w, `{"status":"EXECUTING","data":[]}`)
		return
	}
	switch req.Get("service").String() {
	case "Mast.Caom.Filtered":
		pages := map[int64]string{
			1: `[{"obsid":"2003001","obs_id":"J8XI01ABQ"},{"obsid":"2003002","obs_id":"j8xi01acq"}]`,
			2: `[{"obsid":"2003003","obs_id":"j8xi01adq"}]`,
		}
		page := req.Get("page").Int()
		fmt.Fprintf(w, `{"status":"COMPLETE","data":%s,"paging":{"page":%d,"pagesFiltered":2,"rows":3}}`, pages[page], page)
	case "Mast.Caom.Products":
		var rows []string
		for _, id := range strings.Split(req.Get("params.obsid").String(), ",") {
			rows = append(rows,
				fmt.Sprintf(`{"obsID":%q,"obs_id":"j8xi%s","productFilename":"j8xi%s_flt.fits","productSubGroupDescription":"FLT","dataURI":"mast:HST/product/j8xi%s_flt.fits","size":168000000}`, id, id[4:], id[4:], id[4:]),
				fmt.Sprintf(`{"obsID":%q,"obs_id":"j8xi%s","productFilename":"j8xi%s_drz.fits","productSubGroupDescription":"DRZ","size":210000000}`, id, id[4:], id[4:]),
			)
		}
		fmt.Fprintf(w, `{"status":"COMPLETE","data":[%s],"paging":{"page":1,"pagesFiltered":1}}`, strings.Join(rows, ","))
	default:
		fmt.Fprint(w, `{"status":"ERROR","msg":"unknown service"}`)
	}
}

func newTestClient(t *testing.T, fake *fakeMAST) *Client {
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.PollInterval = time.Millisecond
	return c
}

func TestQueryCriteria(t *testing.T) {
	fake := &fakeMAST{}
	c := newTestClient(t, fake)
	obs, err := c.QueryCriteria(context.Background(), Criteria{
		ObsCollection:   "HST",
		DataproductType: "image",
		InstrumentName:  "ACS/WFC",
		Filters:         []string{"F814W"},
	})
	require.NoError(t, err)
	require.Len(t, obs, 3)
	assert.Equal(t, Observation{ID: "2003001", ObsID: "J8XI01ABQ"}, obs[0])

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.requests, 2, "one request per page")
	req := fake.requests[0]
	assert.Equal(t, "Mast.Caom.Filtered", req.Get("service").String())
	assert.Equal(t, "json", req.Get("format").String())
	assert.Equal(t, int64(2), req.Get("pagesize").Int())
	assert.Equal(t, int64(2), fake.requests[1].Get("page").Int())
	filters := req.Get("params.filters").Array()
	require.Len(t, filters, 4)
	assert.Equal(t, "instrument_name", filters[2].Get("paramName").String())
	assert.Equal(t, "ACS/WFC", filters[2].Get("values.0").String())
}

func TestQueryExecuting(t *testing.T) {
	fake := &fakeMAST{executing: 2}
	c := newTestClient(t, fake)
	obs, err := c.QueryCriteria(context.Background(), Criteria{ObsCollection: "HST"})
	require.NoError(t, err)
	assert.Len(t, obs, 3)

	fake.mu.Lock()
	fake.executing = 10
	fake.mu.Unlock()
	c.PollAttempts = 3
	_, err = c.QueryCriteria(context.Background(), Criteria{ObsCollection: "HST"})
	assert.ErrorContains(t, err, "still executing")
}

func TestQueryErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, 10, nil)
	_, err := c.QueryCriteria(context.Background(), Criteria{})
	assert.Error(t, err)

	c = newTestClient(t, &fakeMAST{})
	_, err = c.invoke(context.Background(), "Mast.Unknown", nil)
	assert.ErrorContains(t, err, "unknown service")
}

func TestProductPipeline(t *testing.T) {
	c := newTestClient(t, &fakeMAST{})
	ctx := context.Background()
	obs, err := c.QueryCriteria(ctx, Criteria{ObsCollection: "HST"})
	require.NoError(t, err)
	products, err := c.ProductList(ctx, obs)
	require.NoError(t, err)
	require.Len(t, products, 6)
	assert.Equal(t, "FLT", products[0].Subgroup)
	assert.Equal(t, int64(168000000), products[0].Size)

	flts, err := FilterProducts(products, []string{"flt"}, "")
	require.NoError(t, err)
	assert.Len(t, flts, 3)

	uris := CloudURIs(flts)
	assert.Equal(t, "s3://stpubdata/hst/public/j8xi/j8xi001/j8xi001_flt.fits", uris[0])

	small, err := FilterProducts(products, nil, `product.size < 200000000.0 && product.productFilename.endsWith("_flt.fits")`)
	require.NoError(t, err)
	assert.Len(t, small, 3)
}

func TestProductFilterErrors(t *testing.T) {
	_, err := NewProductFilter(nil, "product.size <")
	assert.Error(t, err)

	f, err := NewProductFilter(nil, `product.productFilename`)
	require.NoError(t, err)
	_, err = f.Match(Product{ProductFilename: "a_flt.fits", Fields: map[string]interface{}{"productFilename": "a_flt.fits"}})
	assert.ErrorContains(t, err, "boolean")
}

func TestCloudKey(t *testing.T) {
	key, err := CloudKey(Product{ObsID: "J8XI01ABQ", ProductFilename: "j8xi01abq_flt.fits"})
	require.NoError(t, err)
	assert.Equal(t, "hst/public/j8xi/j8xi01abq/j8xi01abq_flt.fits", key)

	key, err = CloudKey(Product{ProductFilename: "ibg705081_drz.fits"})
	require.NoError(t, err)
	assert.Equal(t, "hst/public/ibg7/ibg705081/ibg705081_drz.fits", key)

	_, err = CloudKey(Product{ObsID: "j8xi01abq"})
	assert.Error(t, err)
	assert.Empty(t, CloudURIs([]Product{{ObsID: "x"}}))
}
