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

package sky

import (
	"context"

	"github.com/nmiles2718/computesky/internal/invoke"
	"github.com/nmiles2718/computesky/internal/record"
)

// Response of a completed invocation. The value is formatted as in the table, so NaN survives JSON
type Response struct {
	Output string `json:"output"`
	Column string `json:"column"`
	Value  string `json:"value"`
}

// NewResponse summarizes a result
func NewResponse(res *Result) Response {
	return Response{
		Output: res.Output.String(),
		Column: res.Record.Background.FieldName(),
		Value:  record.FormatValue(res.Record.Background.Value),
	}
}

// Handler returns the function serving one invocation event
func (p *Pipeline) Handler() func(ctx context.Context, payload invoke.Payload) (Response, error) {
	return func(ctx context.Context, payload invoke.Payload) (Response, error) {
		res, err := p.Process(ctx, payload)
		if err != nil {
			p.logger.Error("invocation failed", "key", payload.FitsKey, "err", err)
			return Response{}, err
		}
		return NewResponse(res), nil
	}
}
