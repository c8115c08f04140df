// Package filter compiles style filter expressions into feature predicates.
package filter

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Filter reports whether a feature passes at the given zoom.
type Filter func(zoom float64, f *geojson.Feature) bool

// ErrInvalid is wrapped by every compile error.
var ErrInvalid = errors.New("invalid filter")

// Always matches every feature. It is what a nil expression compiles to.
func Always(float64, *geojson.Feature) bool { return true }

// Compile turns a decoded JSON expression (as produced by encoding/json) into a Filter.
func Compile(expr interface{}) (Filter, error) {
	if expr == nil {
		return Always, nil
	}
	arr, ok := expr.([]interface{})
	if !ok || len(arr) == 0 {
		return nil, fmt.Errorf("%w: expected a non-empty array, got %v", ErrInvalid, expr)
	}
	op, ok := arr[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: operator must be a string, got %v", ErrInvalid, arr[0])
	}

	switch op {
	case "all", "any", "none":
		subs := make([]Filter, 0, len(arr)-1)
		for _, e := range arr[1:] {
			f, err := Compile(e)
			if err != nil {
				return nil, err
			}
			subs = append(subs, f)
		}
		return combine(op, subs), nil

	case "has", "!has":
		if len(arr) != 2 {
			return nil, fmt.Errorf("%w: %q takes one key", ErrInvalid, op)
		}
		key, ok := arr[1].(string)
		if !ok {
			return nil, fmt.Errorf("%w: %q key must be a string", ErrInvalid, op)
		}
		want := op == "has"
		return func(_ float64, f *geojson.Feature) bool {
			_, found := lookup(f, key)
			return found == want
		}, nil

	case "in", "!in":
		if len(arr) < 2 {
			return nil, fmt.Errorf("%w: %q takes a key", ErrInvalid, op)
		}
		key, ok := arr[1].(string)
		if !ok {
			return nil, fmt.Errorf("%w: %q key must be a string", ErrInvalid, op)
		}
		values := arr[2:]
		want := op == "in"
		return func(_ float64, f *geojson.Feature) bool {
			v, found := lookup(f, key)
			if !found {
				return !want
			}
			for _, candidate := range values {
				if equal(v, candidate) {
					return want
				}
			}
			return !want
		}, nil

	case "==", "!=", "<", "<=", ">", ">=":
		if len(arr) != 3 {
			return nil, fmt.Errorf("%w: %q takes a key and a value", ErrInvalid, op)
		}
		key, ok := arr[1].(string)
		if !ok {
			return nil, fmt.Errorf("%w: %q key must be a string", ErrInvalid, op)
		}
		return comparison(op, key, arr[2]), nil
	}

	return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalid, op)
}

func combine(op string, subs []Filter) Filter {
	switch op {
	case "all":
		return func(z float64, f *geojson.Feature) bool {
			for _, s := range subs {
				if !s(z, f) {
					return false
				}
			}
			return true
		}
	case "any":
		return func(z float64, f *geojson.Feature) bool {
			for _, s := range subs {
				if s(z, f) {
					return true
				}
			}
			return false
		}
	default: // none
		return func(z float64, f *geojson.Feature) bool {
			for _, s := range subs {
				if s(z, f) {
					return false
				}
			}
			return true
		}
	}
}

func comparison(op, key string, want interface{}) Filter {
	return func(_ float64, f *geojson.Feature) bool {
		v, found := lookup(f, key)
		switch op {
		case "==":
			return found && equal(v, want)
		case "!=":
			return !found || !equal(v, want)
		}
		if !found {
			return false
		}
		c, ok := compare(v, want)
		if !ok {
			return false
		}
		switch op {
		case "<":
			return c < 0
		case "<=":
			return c <= 0
		case ">":
			return c > 0
		default:
			return c >= 0
		}
	}
}

func lookup(f *geojson.Feature, key string) (interface{}, bool) {
	switch key {
	case "$type":
		return GeometryType(f.Geometry), f.Geometry != nil
	case "$id":
		return f.ID, f.ID != nil
	}
	v, ok := f.Properties[key]
	return v, ok
}

// GeometryType collapses multi geometries to the three vector tile geometry types.
func GeometryType(g orb.Geometry) string {
	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return "Point"
	case orb.LineString, orb.MultiLineString:
		return "LineString"
	case orb.Polygon, orb.MultiPolygon, orb.Ring, orb.Bound:
		return "Polygon"
	}
	return "Unknown"
}

func equal(a, b interface{}) bool {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		return ok && fa == fb
	}
	return a == b
}

func compare(a, b interface{}) (int, bool) {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, ok := a.(string)
	if !ok {
		return 0, false
	}
	sb, ok := b.(string)
	if !ok {
		return 0, false
	}
	switch {
	case sa < sb:
		return -1, true
	case sa > sb:
		return 1, true
	}
	return 0, true
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
