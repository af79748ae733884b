// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"syscall"

	"github.com/agentworker/agentworker/pkg/config"
)

// DiscoveryInfo is the process-wide discovery file at
// <config-dir>/daemon.json. Written atomically on start, removed
// on graceful shutdown, and GC'd by any client that finds the pid dead.
type DiscoveryInfo struct {
	PID       int    `json:"pid"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	StartedAt int64  `json:"startedAt"` // epoch ms
	Token     string `json:"token,omitempty"`
}

// WriteDiscovery writes info atomically (temp file + rename).
func WriteDiscovery(configDir string, info DiscoveryInfo) error {
	path := config.DiscoveryPath(configDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".daemon-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// RemoveDiscovery deletes the discovery file. Missing files are fine.
func RemoveDiscovery(configDir string) error {
	err := os.Remove(config.DiscoveryPath(configDir))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadDiscovery loads the discovery file, GC'ing it when the recorded pid
// is no longer alive. Returns (nil, nil) when no live daemon is found.
func ReadDiscovery(configDir string) (*DiscoveryInfo, error) {
	data, err := os.ReadFile(config.DiscoveryPath(configDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var info DiscoveryInfo
	if err := json.Unmarshal(data, &info); err != nil {
		// Corrupt discovery file: treat as stale.
		_ = RemoveDiscovery(configDir)
		return nil, nil
	}
	if !pidAlive(info.PID) {
		_ = RemoveDiscovery(configDir)
		return nil, nil
	}
	return &info, nil
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
