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

// Package invoke defines the invocation payload of the background pipeline and
// the ways of submitting it to a remote executor.
package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nmiles2718/computesky/internal/storage"
)

// The event that triggers one background estimate
type Payload struct {
	FitsKey      string `json:"fits_s3_key"`
	FitsBucket   string `json:"fits_s3_bucket"`
	OutputBucket string `json:"s3_output_bucket"`
}

// Validate checks that all fields are set
func (p Payload) Validate() error {
	var errs []error
	if p.FitsKey == "" {
		errs = append(errs, errors.New("fits_s3_key is required"))
	}
	if p.FitsBucket == "" {
		errs = append(errs, errors.New("fits_s3_bucket is required"))
	}
	if p.OutputBucket == "" {
		errs = append(errs, errors.New("s3_output_bucket is required"))
	}
	return errors.Join(errs...)
}

// Input returns the exposure to process
func (p Payload) Input(requesterPays bool) storage.Object {
	return storage.Object{Bucket: p.FitsBucket, Key: p.FitsKey, RequesterPays: requesterPays}
}

// Output returns where the result table goes
func (p Payload) Output() storage.Object {
	return storage.Object{Bucket: p.OutputBucket, Key: storage.OutputKey(p.FitsKey)}
}

// Decode parses and validates a JSON payload
func Decode(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decoding payload: %w", err)
	}
	return p, p.Validate()
}

// Submits payloads for execution. Does not wait for the estimate to complete
type Invoker interface {
	Invoke(ctx context.Context, p Payload) error
}

// Adapts a function to the Invoker interface
type InvokerFunc func(ctx context.Context, p Payload) error

func (f InvokerFunc) Invoke(ctx context.Context, p Payload) error {
	return f(ctx, p)
}
