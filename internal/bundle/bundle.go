// Package bundle reads and writes the receipt export/audit bundle format
// (spec §6): a directory holding manifest.json plus a receipts/
// subdirectory of enveloped *.peac.json files. Grounded on the teacher's
// internal/audit/audit_logger.go idiom of one JSON record per artifact
// with an explicit wire-format struct kept separate from the in-memory
// type, applied here to discrete files instead of log lines.
package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"peaccore/internal/receipt"
)

const formatVersion = "1"
const format = "peac.bundle"

// Manifest is the top-level manifest.json document.
type Manifest struct {
	Version      string            `json:"version"`
	Format       string            `json:"format"`
	CreatedAt    time.Time         `json:"created_at"`
	ReceiptCount int               `json:"receipt_count"`
	Filters      map[string]string `json:"filters,omitempty"`
	Receipts     []ManifestEntry   `json:"receipts"`
}

// ManifestEntry references one file under receipts/.
type ManifestEntry struct {
	File  string    `json:"file"`
	Mtime time.Time `json:"mtime"`
}

// envelope is the on-disk wire format of a single receipts/*.peac.json
// file: the claims alongside the detached compact JWS that signs them
// (spec §6, "receipts at rest may be enveloped").
type envelope struct {
	receipt.Claims
	JWS string `json:"_jws"`
}

// Filters narrows which issued receipts Write selects; zero value selects
// everything.
type Filters struct {
	Iss string
	Aud string
}

func (f Filters) asMap() map[string]string {
	m := map[string]string{}
	if f.Iss != "" {
		m["iss"] = f.Iss
	}
	if f.Aud != "" {
		m["aud"] = f.Aud
	}
	return m
}

func (f Filters) matches(c receipt.Claims) bool {
	if f.Iss != "" && c.Iss != f.Iss {
		return false
	}
	if f.Aud != "" && c.Aud != f.Aud {
		return false
	}
	return true
}

// Write creates dir (and dir/receipts) if necessary and writes a manifest
// plus one enveloped file per receipt in issued that passes filters. File
// names are "<rid>.peac.json"; receipts with an empty rid are rejected.
func Write(dir string, issued []receipt.Issued, filters Filters, createdAt time.Time) error {
	receiptsDir := filepath.Join(dir, "receipts")
	if err := os.MkdirAll(receiptsDir, 0o755); err != nil {
		return fmt.Errorf("bundle: create receipts dir: %w", err)
	}

	var entries []ManifestEntry
	for _, iss := range issued {
		if !filters.matches(iss.Claims) {
			continue
		}
		if iss.Claims.Rid == "" {
			return fmt.Errorf("bundle: receipt missing rid, cannot name file")
		}

		env := envelope{Claims: iss.Claims, JWS: iss.JWS}
		data, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			return fmt.Errorf("bundle: marshal receipt %s: %w", iss.Claims.Rid, err)
		}

		fileName := iss.Claims.Rid + ".peac.json"
		path := filepath.Join(receiptsDir, fileName)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("bundle: write %s: %w", fileName, err)
		}

		fi, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("bundle: stat %s: %w", fileName, err)
		}
		entries = append(entries, ManifestEntry{
			File:  filepath.Join("receipts", fileName),
			Mtime: fi.ModTime().UTC(),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].File < entries[j].File })

	manifest := Manifest{
		Version:      formatVersion,
		Format:       format,
		CreatedAt:    createdAt.UTC(),
		ReceiptCount: len(entries),
		Filters:      filters.asMap(),
		Receipts:     entries,
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("bundle: marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), manifestData, 0o644); err != nil {
		return fmt.Errorf("bundle: write manifest.json: %w", err)
	}
	return nil
}

// Entry is one receipt read back from a bundle: its claims and the
// detached JWS that signs them, ready to hand to receipt.Verifier.Verify.
type Entry struct {
	Claims receipt.Claims
	JWS    string
}

// Read loads manifest.json from dir and every receipt file it references,
// in manifest order. It does not verify signatures; that is the caller's
// job via internal/receipt.
func Read(dir string) (Manifest, []Entry, error) {
	manifestData, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return Manifest{}, nil, fmt.Errorf("bundle: read manifest.json: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return Manifest{}, nil, fmt.Errorf("bundle: parse manifest.json: %w", err)
	}
	if manifest.Format != format {
		return Manifest{}, nil, fmt.Errorf("bundle: unrecognised format %q", manifest.Format)
	}

	entries := make([]Entry, 0, len(manifest.Receipts))
	for _, me := range manifest.Receipts {
		if strings.Contains(me.File, "..") {
			return Manifest{}, nil, fmt.Errorf("bundle: refusing unsafe manifest path %q", me.File)
		}
		data, err := os.ReadFile(filepath.Join(dir, me.File))
		if err != nil {
			return Manifest{}, nil, fmt.Errorf("bundle: read %s: %w", me.File, err)
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return Manifest{}, nil, fmt.Errorf("bundle: parse %s: %w", me.File, err)
		}
		entries = append(entries, Entry{Claims: env.Claims, JWS: env.JWS})
	}

	if len(entries) != manifest.ReceiptCount {
		return Manifest{}, nil, fmt.Errorf("bundle: manifest receipt_count=%d but found %d files",
			manifest.ReceiptCount, len(entries))
	}

	return manifest, entries, nil
}
