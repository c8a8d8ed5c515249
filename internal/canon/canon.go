// Package canon implements RFC 8785 JSON Canonicalization (JCS) with the
// traversal caps and JSON-safety checks the capture/receipt pipeline needs
// before anything is hashed or signed.
//
// Canonicalize walks the input with reflection first so that cycles,
// non-plain containers, and unsupported kinds (bigints, funcs, channels,
// complex numbers) are rejected with a precise path before encoding/json
// ever sees the value — encoding/json itself only notices a cycle after a
// thousand levels of recursion and reports no path. Once validated, the value is
// marshaled and handed to a reviewed JCS implementation rather than a
// hand-rolled number formatter (see DESIGN.md).
package canon

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"

	"github.com/gowebpki/jcs"
)

// Limits bounds the traversal performed by Canonicalize, guarding against
// maliciously deep or wide payloads. The zero value is not usable; use
// DefaultLimits.
type Limits struct {
	MaxDepth      int
	MaxArrayLen   int
	MaxObjectKeys int
	MaxStringLen  int
	MaxTotalNodes int
}

// DefaultLimits are the caps the evidence validator uses; callers with
// different trust boundaries may supply their own Limits.
var DefaultLimits = Limits{
	MaxDepth:      32,
	MaxArrayLen:   10_000,
	MaxObjectKeys: 1_000,
	MaxStringLen:  65_536,
	MaxTotalNodes: 100_000,
}

// NotJSONSafeError reports a value that cannot be represented in canonical
// JSON: NaN/Infinity, a reference cycle, a non-plain container, or a kind
// with no JSON representation (bigint, func, chan, complex, unsafe
// pointer). ErrorCode is always "E_EVIDENCE_NOT_JSON" per spec §7.
type NotJSONSafeError struct {
	Path      string
	Reason    string
	ErrorCode string
}

func (e *NotJSONSafeError) Error() string {
	return fmt.Sprintf("canon: %s not JSON-safe at %s: %s", e.ErrorCode, e.Path, e.Reason)
}

func notJSONSafe(path, reason string) error {
	return &NotJSONSafeError{Path: path, Reason: reason, ErrorCode: "E_EVIDENCE_NOT_JSON"}
}

// CapExceededError reports a traversal cap tripped while walking a value.
type CapExceededError struct {
	Limit string // "depth", "array_len", "object_keys", "string_len", "total_nodes"
	Path  string
	Value int
	Max   int
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("canon: limit %s exceeded at %s: %d > %d", e.Limit, e.Path, e.Value, e.Max)
}

var bigIntType = reflect.TypeOf(big.Int{})

// Canonicalize validates v against limits and, if safe, returns its RFC 8785
// canonical JSON byte form.
func Canonicalize(v any, limits Limits) ([]byte, error) {
	nodes := 0
	if err := validate(reflect.ValueOf(v), "$", 0, &nodes, limits, map[uintptr]bool{}); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, notJSONSafe("$", err.Error())
	}

	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, notJSONSafe("$", err.Error())
	}
	return canon, nil
}

// CanonicalizeDefault is Canonicalize with DefaultLimits.
func CanonicalizeDefault(v any) ([]byte, error) {
	return Canonicalize(v, DefaultLimits)
}

func validate(rv reflect.Value, path string, depth int, nodes *int, limits Limits, seen map[uintptr]bool) error {
	*nodes++
	if *nodes > limits.MaxTotalNodes {
		return &CapExceededError{Limit: "total_nodes", Path: path, Value: *nodes, Max: limits.MaxTotalNodes}
	}
	if depth > limits.MaxDepth {
		return &CapExceededError{Limit: "depth", Path: path, Value: depth, Max: limits.MaxDepth}
	}

	if !rv.IsValid() {
		return nil // untyped nil
	}

	// Unwrap interfaces.
	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		return validate(rv.Elem(), path, depth, nodes, limits, seen)
	}

	if rv.Type() == bigIntType || (rv.Kind() == reflect.Ptr && rv.Type().Elem() == bigIntType) {
		return notJSONSafe(path, "bigint")
	}

	switch rv.Kind() {
	case reflect.Invalid:
		return nil
	case reflect.Bool, reflect.String:
		if rv.Kind() == reflect.String && len(rv.String()) > limits.MaxStringLen {
			return &CapExceededError{Limit: "string_len", Path: path, Value: len(rv.String()), Max: limits.MaxStringLen}
		}
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) {
			return notJSONSafe(path, "NaN")
		}
		if math.IsInf(f, 0) {
			return notJSONSafe(path, "Infinity")
		}
		return nil
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return notJSONSafe(path, "cycle")
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		return validate(rv.Elem(), path, depth+1, nodes, limits, seen)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		if rv.Kind() == reflect.Slice {
			ptr := rv.Pointer()
			if rv.Len() > 0 {
				if seen[ptr] {
					return notJSONSafe(path, "cycle")
				}
				seen[ptr] = true
				defer delete(seen, ptr)
			}
		}
		if rv.Len() > limits.MaxArrayLen {
			return &CapExceededError{Limit: "array_len", Path: path, Value: rv.Len(), Max: limits.MaxArrayLen}
		}
		for i := 0; i < rv.Len(); i++ {
			if err := validate(rv.Index(i), fmt.Sprintf("%s[%d]", path, i), depth+1, nodes, limits, seen); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		if rv.Type().Key().Kind() != reflect.String {
			return notJSONSafe(path, "non-plain-object: map key is not a string")
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return notJSONSafe(path, "cycle")
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		if rv.Len() > limits.MaxObjectKeys {
			return &CapExceededError{Limit: "object_keys", Path: path, Value: rv.Len(), Max: limits.MaxObjectKeys}
		}
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			if err := validate(iter.Value(), path+"."+k, depth+1, nodes, limits, seen); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
		// time.Time and similar MarshalJSON-capable structs are plain from
		// the wire's perspective; walk exported fields generically.
		if m, ok := rv.Interface().(json.Marshaler); ok {
			raw, err := m.MarshalJSON()
			if err != nil {
				return notJSONSafe(path, err.Error())
			}
			if len(raw) > limits.MaxStringLen && rv.Type() != bigIntType {
				// not a string cap per se, but guards pathological custom marshalers
				return &CapExceededError{Limit: "string_len", Path: path, Value: len(raw), Max: limits.MaxStringLen}
			}
			return nil
		}
		t := rv.Type()
		if t.NumField() > limits.MaxObjectKeys {
			return &CapExceededError{Limit: "object_keys", Path: path, Value: t.NumField(), Max: limits.MaxObjectKeys}
		}
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" { // unexported
				continue
			}
			if err := validate(rv.Field(i), path+"."+f.Name, depth+1, nodes, limits, seen); err != nil {
				return err
			}
		}
		return nil
	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return notJSONSafe(path, "unsupported kind: "+rv.Kind().String())
	default:
		return notJSONSafe(path, "unsupported kind: "+rv.Kind().String())
	}
}
