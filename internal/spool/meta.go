package spool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const metaVersion = 1

// metaFile is the sidecar <file>.meta.json (spec §4.2, §6).
type metaFile struct {
	MetaVersion int    `json:"metaVersion"`
	Sequence    int64  `json:"sequence"`
	HeadDigest  string `json:"headDigest"`
	EntryCount  int64  `json:"entryCount"`
	FileBytes   int64  `json:"fileBytes"`
	MtimeMs     int64  `json:"mtimeMs"`
}

func metaPath(logPath string) string { return logPath + ".meta.json" }

func readMeta(logPath string) (*metaFile, error) {
	b, err := os.ReadFile(metaPath(logPath))
	if err != nil {
		return nil, err
	}
	var m metaFile
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("spool: parse meta file: %w", err)
	}
	return &m, nil
}

// writeMetaAtomic writes m to a temp file in the same directory and renames
// it over the meta sidecar, so a crash mid-write never leaves a torn meta
// file (spec §4.2 commit()).
func writeMetaAtomic(logPath string, m metaFile) error {
	dir := filepath.Dir(logPath)
	tmp, err := os.CreateTemp(dir, filepath.Base(logPath)+".meta-*.tmp")
	if err != nil {
		return fmt.Errorf("spool: create temp meta file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	b, err := json.Marshal(m)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("spool: marshal meta: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("spool: write temp meta file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("spool: sync temp meta file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("spool: close temp meta file: %w", err)
	}
	if err := os.Rename(tmpPath, metaPath(logPath)); err != nil {
		return fmt.Errorf("spool: rename meta file: %w", err)
	}
	return nil
}

// metaTrustworthy reports whether m accurately describes the current state
// of the file at logPath: a matching version, exact file-size match, and a
// matching mtime (spec §4.2 "fast path"). Coarse-mtime filesystems will
// frequently fail this check, which only costs a full scan (spec §9 note).
func metaTrustworthy(m *metaFile, fi os.FileInfo) bool {
	if m.MetaVersion != metaVersion {
		return false
	}
	if m.FileBytes != fi.Size() {
		return false
	}
	if m.MtimeMs != fi.ModTime().UnixMilli() {
		return false
	}
	return true
}
