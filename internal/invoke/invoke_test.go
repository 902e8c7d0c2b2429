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

package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmiles2718/computesky/internal/storage"
)

var testPayload = Payload{
	FitsKey:      "hst/public/j8xi/j8xi01abq/j8xi01abq_flt.fits",
	FitsBucket:   "stpubdata",
	OutputBucket: "compute-sky-lambda",
}

func TestPayloadJSON(t *testing.T) {
	data, err := json.Marshal(testPayload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"fits_s3_key":"hst/public/j8xi/j8xi01abq/j8xi01abq_flt.fits",
		"fits_s3_bucket":"stpubdata","s3_output_bucket":"compute-sky-lambda"}`, string(data))

	p, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, testPayload, p)
}

func TestPayloadValidate(t *testing.T) {
	assert.NoError(t, testPayload.Validate())

	_, err := Decode([]byte(`{"fits_s3_key":"a.fits"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fits_s3_bucket")
	assert.Contains(t, err.Error(), "s3_output_bucket")

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestPayloadObjects(t *testing.T) {
	assert.Equal(t, storage.Object{Bucket: "stpubdata", Key: testPayload.FitsKey, RequesterPays: true}, testPayload.Input(true))
	assert.Equal(t, storage.Object{Bucket: "compute-sky-lambda", Key: "results/j8xi01abq_sky.dat"}, testPayload.Output())
}

type fakeLambda struct {
	inputs []*awslambda.InvokeInput
	out    *awslambda.InvokeOutput
	err    error
}

func (f *fakeLambda) Invoke(ctx context.Context, in *awslambda.InvokeInput, opts ...func(*awslambda.Options)) (*awslambda.InvokeOutput, error) {
	f.inputs = append(f.inputs, in)
	return f.out, f.err
}

func TestLambdaInvoker(t *testing.T) {
	fake := &fakeLambda{out: &awslambda.InvokeOutput{StatusCode: 202}}
	inv := &LambdaInvoker{Client: fake, FunctionName: "compute_sky"}

	require.NoError(t, inv.Invoke(context.Background(), testPayload))
	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "compute_sky", aws.ToString(in.FunctionName))
	assert.Equal(t, types.InvocationTypeEvent, in.InvocationType)
	var p Payload
	require.NoError(t, json.Unmarshal(in.Payload, &p))
	assert.Equal(t, testPayload, p)

	fake.out = &awslambda.InvokeOutput{StatusCode: 500}
	assert.Error(t, inv.Invoke(context.Background(), testPayload))

	fake.out = &awslambda.InvokeOutput{StatusCode: 202, FunctionError: aws.String("Unhandled")}
	assert.Error(t, inv.Invoke(context.Background(), testPayload))

	fake.err = errors.New("throttled")
	assert.ErrorContains(t, inv.Invoke(context.Background(), testPayload), "throttled")
}

func TestHTTPInvoker(t *testing.T) {
	var got Payload
	var requestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID = r.Header.Get(RequestIDHeader)
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil || got.Validate() != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	inv := &HTTPInvoker{URL: srv.URL}
	require.NoError(t, inv.Invoke(context.Background(), testPayload))
	assert.Equal(t, testPayload, got)
	_, err := uuid.Parse(requestID)
	assert.NoError(t, err)

	err = inv.Invoke(context.Background(), Payload{FitsKey: "x.fits"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad payload")
}

func TestInvokerFunc(t *testing.T) {
	var calls int
	var inv Invoker = InvokerFunc(func(ctx context.Context, p Payload) error {
		calls++
		return nil
	})
	require.NoError(t, inv.Invoke(context.Background(), testPayload))
	assert.Equal(t, 1, calls)
}
