package bundle_test

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
	"time"

	"peaccore/internal/bundle"
	"peaccore/internal/receipt"
)

func issueTestReceipt(t *testing.T, aud string) receipt.Issued {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	_ = pub
	iss, err := receipt.NewIssuer(receipt.IssuerOptions{Kid: "key-1", PrivateKey: priv})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	issued, err := iss.Issue(receipt.Claims{
		Iss: "https://issuer.example.com",
		Aud: aud,
		Amt: 1000,
		Cur: "USD",
		Payment: receipt.Payment{
			Rail: "x402", Reference: "pay_test", Amount: 1000, Currency: "USD",
			Asset: "USDC", Env: receipt.EnvLive,
		},
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return issued
}

func TestWriteRead_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	a := issueTestReceipt(t, "https://merchant-a.example.com")
	b := issueTestReceipt(t, "https://merchant-b.example.com")

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	if err := bundle.Write(dir, []receipt.Issued{a, b}, bundle.Filters{}, now); err != nil {
		t.Fatalf("Write: %v", err)
	}

	manifest, entries, err := bundle.Read(dir)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if manifest.ReceiptCount != 2 {
		t.Fatalf("ReceiptCount = %d, want 2", manifest.ReceiptCount)
	}
	if manifest.Format != "peac.bundle" {
		t.Fatalf("Format = %q", manifest.Format)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.JWS == "" {
			t.Fatal("expected non-empty JWS")
		}
		if e.Claims.Rid == "" {
			t.Fatal("expected non-empty rid")
		}
	}
}

func TestWrite_FiltersByAudience(t *testing.T) {
	dir := t.TempDir()
	a := issueTestReceipt(t, "https://merchant-a.example.com")
	b := issueTestReceipt(t, "https://merchant-b.example.com")

	now := time.Now().UTC()
	err := bundle.Write(dir, []receipt.Issued{a, b}, bundle.Filters{Aud: "https://merchant-a.example.com"}, now)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	manifest, entries, err := bundle.Read(dir)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if manifest.ReceiptCount != 1 {
		t.Fatalf("ReceiptCount = %d, want 1", manifest.ReceiptCount)
	}
	if entries[0].Claims.Aud != "https://merchant-a.example.com" {
		t.Fatalf("unexpected aud: %s", entries[0].Claims.Aud)
	}
	if manifest.Filters["aud"] != "https://merchant-a.example.com" {
		t.Fatalf("manifest.Filters = %+v", manifest.Filters)
	}
}

func TestRead_RejectsUnsafeManifestPath(t *testing.T) {
	dir := t.TempDir()
	writeManifestWithPath(t, dir, "../outside.peac.json")
	if _, _, err := bundle.Read(dir); err == nil {
		t.Fatal("expected error for path traversal in manifest")
	}
}

func writeManifestWithPath(t *testing.T, dir, file string) {
	t.Helper()
	manifest := `{"version":"1","format":"peac.bundle","created_at":"2026-01-01T00:00:00Z","receipt_count":1,"receipts":[{"file":"` + file + `","mtime":"2026-01-01T00:00:00Z"}]}`
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}
