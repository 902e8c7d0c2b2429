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
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// Bucket holding the public HST data
const PublicBucket = "stpubdata"

// ProductFilter selects products by subgroup description and an optional CEL
// expression over the product's columns, available as variable "product"
type ProductFilter struct {
	subgroups map[string]bool
	program   cel.Program
}

// NewProductFilter compiles the filter. Empty subgroups match all, as does an empty expression
func NewProductFilter(subgroups []string, expr string) (*ProductFilter, error) {
	f := &ProductFilter{subgroups: make(map[string]bool)}
	for _, s := range subgroups {
		f.subgroups[strings.ToUpper(s)] = true
	}
	if strings.TrimSpace(expr) == "" {
		return f, nil
	}

	env, err := cel.NewEnv(cel.Variable("product", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}
	f.program, err = env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return f, nil
}

// Match tells whether the product passes the filter
func (f *ProductFilter) Match(p Product) (bool, error) {
	if len(f.subgroups) > 0 && !f.subgroups[strings.ToUpper(p.Subgroup)] {
		return false, nil
	}
	if f.program == nil {
		return true, nil
	}
	fields := p.Fields
	if fields == nil {
		fields = map[string]interface{}{}
	}
	out, _, err := f.program.Eval(map[string]interface{}{"product": fields})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error for %s: %w", p.ProductFilename, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return boolean, got %T", out.Value())
	}
	return result, nil
}

// FilterProducts keeps the products matching the subgroups and expression
func FilterProducts(products []Product, subgroups []string, expr string) ([]Product, error) {
	f, err := NewProductFilter(subgroups, expr)
	if err != nil {
		return nil, err
	}
	var kept []Product
	for _, p := range products {
		ok, err := f.Match(p)
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

// CloudKey returns the key of the product in the public HST bucket,
// e.g. hst/public/j8xi/j8xi01abq/j8xi01abq_flt.fits
func CloudKey(p Product) (string, error) {
	if p.ProductFilename == "" {
		return "", fmt.Errorf("product of %q has no file name", p.ObsID)
	}
	obsID := strings.ToLower(p.ObsID)
	if len(obsID) < 4 {
		// fall back to the dataset name in the file name
		obsID, _, _ = strings.Cut(strings.ToLower(p.ProductFilename), "_")
	}
	if len(obsID) < 4 {
		return "", fmt.Errorf("product %s has no usable observation ID %q", p.ProductFilename, p.ObsID)
	}
	return "hst/public/" + obsID[:4] + "/" + obsID + "/" + p.ProductFilename, nil
}

// CloudURIs returns s3:// URIs of the products in the public HST bucket. Products
// without a usable location are skipped
func CloudURIs(products []Product) []string {
	uris := make([]string, 0, len(products))
	for _, p := range products {
		key, err := CloudKey(p)
		if err != nil {
			continue
		}
		uris = append(uris, "s3://"+PublicBucket+"/"+key)
	}
	return uris
}
