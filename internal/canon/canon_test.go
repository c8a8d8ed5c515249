package canon_test

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"peaccore/internal/canon"
)

func TestCanonicalize_KeyOrdering(t *testing.T) {
	v := map[string]any{"b": 1, "a": 2, "c": 3}
	got, err := canon.CanonicalizeDefault(v)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if string(got) != `{"a":2,"b":1,"c":3}` {
		t.Fatalf("got %s, want sorted keys", got)
	}
}

func TestCanonicalize_Idempotent(t *testing.T) {
	v := map[string]any{"z": []any{1, 2, 3}, "a": "hello"}
	first, err := canon.CanonicalizeDefault(v)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	var parsed any
	dec := json.NewDecoder(strings.NewReader(string(first)))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	second, err := canon.CanonicalizeDefault(parsed)
	if err != nil {
		t.Fatalf("Canonicalize(parsed): %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("not idempotent: %s != %s", first, second)
	}
}

func TestCanonicalize_RejectsNaN(t *testing.T) {
	v := map[string]any{"x": math.NaN()}
	_, err := canon.CanonicalizeDefault(v)
	if err == nil {
		t.Fatal("expected error for NaN")
	}
	var nj *canon.NotJSONSafeError
	if !errors.As(err, &nj) {
		t.Fatalf("expected NotJSONSafeError, got %T: %v", err, err)
	}
}

func TestCanonicalize_RejectsInfinity(t *testing.T) {
	v := map[string]any{"x": math.Inf(1)}
	_, err := canon.CanonicalizeDefault(v)
	if err == nil {
		t.Fatal("expected error for Infinity")
	}
}

func TestCanonicalize_RejectsCycle(t *testing.T) {
	m := map[string]any{}
	m["self"] = m
	_, err := canon.CanonicalizeDefault(m)
	if err == nil {
		t.Fatal("expected error for cycle")
	}
}

func TestCanonicalize_RejectsNonStringMapKey(t *testing.T) {
	v := map[int]any{1: "a"}
	_, err := canon.CanonicalizeDefault(v)
	if err == nil {
		t.Fatal("expected error for non-string map key")
	}
}

func TestCanonicalize_CapsDepth(t *testing.T) {
	var v any = "leaf"
	for i := 0; i < 40; i++ {
		v = map[string]any{"n": v}
	}
	_, err := canon.CanonicalizeDefault(v)
	if err == nil {
		t.Fatal("expected depth cap error")
	}
	var ce *canon.CapExceededError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CapExceededError, got %T: %v", err, err)
	}
	if ce.Limit != "depth" {
		t.Fatalf("limit = %q, want depth", ce.Limit)
	}
}

func TestCanonicalize_CapsArrayLen(t *testing.T) {
	arr := make([]any, 10_001)
	_, err := canon.CanonicalizeDefault(map[string]any{"a": arr})
	if err == nil {
		t.Fatal("expected array_len cap error")
	}
}

func TestCanonicalize_CapsStringLen(t *testing.T) {
	s := strings.Repeat("x", 65_537)
	_, err := canon.CanonicalizeDefault(map[string]any{"s": s})
	if err == nil {
		t.Fatal("expected string_len cap error")
	}
}

func TestComputeDigest_NoTruncation(t *testing.T) {
	d, err := canon.ComputeDigest([]byte("hello"), canon.Trunc64KiB)
	if err != nil {
		t.Fatalf("ComputeDigest: %v", err)
	}
	if d.Alg != "sha-256" {
		t.Fatalf("alg = %q, want sha-256", d.Alg)
	}
	if d.Bytes != 5 {
		t.Fatalf("bytes = %d, want 5", d.Bytes)
	}
	if len(d.Value) != 64 {
		t.Fatalf("value len = %d, want 64", len(d.Value))
	}
}

func TestComputeDigest_Truncates(t *testing.T) {
	payload := make([]byte, int(canon.Trunc64KiB)+10)
	d, err := canon.ComputeDigest(payload, canon.Trunc64KiB)
	if err != nil {
		t.Fatalf("ComputeDigest: %v", err)
	}
	if d.Alg != "sha-256:trunc-64k" {
		t.Fatalf("alg = %q, want sha-256:trunc-64k", d.Alg)
	}
	if d.Bytes != len(payload) {
		t.Fatalf("bytes = %d, want original length %d", d.Bytes, len(payload))
	}

	truncatedOnly, err := canon.ComputeDigest(payload[:int(canon.Trunc64KiB)], canon.Trunc64KiB)
	if err != nil {
		t.Fatalf("ComputeDigest: %v", err)
	}
	if d.Value != truncatedOnly.Value {
		t.Fatalf("truncated hash should match hash of first N bytes")
	}
}

func TestNewTruncThreshold_RejectsOtherValues(t *testing.T) {
	if _, err := canon.NewTruncThreshold(128); err == nil {
		t.Fatal("expected error for invalid threshold")
	}
	if _, err := canon.NewTruncThreshold(64 * 1024); err != nil {
		t.Fatalf("64KiB should be valid: %v", err)
	}
}
