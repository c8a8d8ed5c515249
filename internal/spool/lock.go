package spool

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// lockPayload is the JSON body written into <file>.lock (spec §4.2, §6).
type lockPayload struct {
	PID       int       `json:"pid"`
	StartTime time.Time `json:"startTime"`
	Hostname  string    `json:"hostname"`
	CreatedAt time.Time `json:"createdAt"`
}

func lockFilePath(logPath string) string { return logPath + ".lock" }

// acquireLock creates <file>.lock exclusively. If the lock already exists
// and allowStaleLockBreak is true and the existing lock is older than
// staleLockMaxAge, the stale lock is removed and acquisition retried once.
// Otherwise a *Lockfile error is returned naming the holder pid.
func acquireLock(logPath string, allowStaleLockBreak bool, staleLockMaxAge time.Duration) error {
	path := lockFilePath(logPath)

	payload := lockPayload{
		PID:       os.Getpid(),
		StartTime: processStartTime,
		Hostname:  hostname(),
		CreatedAt: time.Now().UTC(),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("spool: marshal lock payload: %w", err)
	}

	if err := tryCreateLock(path, b); err == nil {
		return nil
	} else if !os.IsExist(err) {
		return fmt.Errorf("spool: create lockfile %s: %w", path, err)
	}

	existing, holderPID, createdAt, readErr := readLock(path)
	if readErr != nil {
		// Unreadable lock: treat conservatively as held, name unknown holder.
		return &Lockfile{LockPath: path, HolderPID: -1}
	}

	if allowStaleLockBreak && !createdAt.IsZero() && time.Since(createdAt) > staleLockMaxAge {
		if rmErr := os.Remove(path); rmErr == nil {
			if err := tryCreateLock(path, b); err == nil {
				return nil
			}
		}
	}

	_ = existing
	return &Lockfile{LockPath: path, HolderPID: holderPID}
}

func tryCreateLock(path string, payload []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(payload)
	return err
}

func readLock(path string) (lockPayload, int, time.Time, error) {
	var p lockPayload
	b, err := os.ReadFile(path)
	if err != nil {
		return p, 0, time.Time{}, err
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return p, 0, time.Time{}, err
	}
	return p, p.PID, p.CreatedAt, nil
}

func releaseLock(logPath string) error {
	err := os.Remove(lockFilePath(logPath))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// processStartTime approximates this process's start time; used only to
// populate the lock payload's diagnostic startTime field.
var processStartTime = time.Now().UTC()
