// Package status reports daemon liveness and library counts.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/promptdock/promptdock/internal/bridge"
	"github.com/promptdock/promptdock/internal/model"
	"github.com/promptdock/promptdock/internal/store"
)

type Report struct {
	Daemon  DaemonStatus  `json:"daemon"`
	Library LibraryStatus `json:"library"`
}

type DaemonStatus struct {
	Running bool   `json:"running"`
	Version string `json:"version,omitempty"`
}

type LibraryStatus struct {
	Prompts   int `json:"prompts"`
	Folders   int `json:"folders"`
	Schedules int `json:"schedules"`
}

// Run collects and prints the status. The library is read straight from the
// store, so counts work even when the daemon is down.
func Run(baseDir string, jsonOutput bool, w io.Writer) error {
	report := Collect(baseDir)

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	running := "stopped"
	if report.Daemon.Running {
		running = "running"
		if report.Daemon.Version != "" {
			running += " (v" + report.Daemon.Version + ")"
		}
	}
	fmt.Fprintf(w, "daemon:    %s\n", running)
	fmt.Fprintf(w, "prompts:   %d\n", report.Library.Prompts)
	fmt.Fprintf(w, "folders:   %d\n", report.Library.Folders)
	fmt.Fprintf(w, "schedules: %d\n", report.Library.Schedules)
	return nil
}

func Collect(baseDir string) Report {
	report := Report{
		Daemon: checkDaemon(filepath.Join(baseDir, bridge.DefaultSocketName)),
	}
	if lib, err := loadLibrary(baseDir); err == nil {
		report.Library = LibraryStatus{
			Prompts:   len(lib.Prompts),
			Folders:   len(lib.Folders),
			Schedules: len(lib.Scheduled),
		}
	}
	return report
}

func checkDaemon(sockPath string) DaemonStatus {
	client := bridge.NewClient(sockPath)
	resp, err := client.SendType(bridge.MsgPing, nil)
	if err != nil || !resp.Success {
		return DaemonStatus{Running: false}
	}
	var pong struct {
		Version string `json:"version"`
	}
	_ = json.Unmarshal(resp.Data, &pong)
	return DaemonStatus{Running: true, Version: pong.Version}
}

func loadLibrary(baseDir string) (*model.Library, error) {
	fs, err := store.NewFileStore(filepath.Join(baseDir, "store"))
	if err != nil {
		return nil, err
	}
	return store.LoadLibrary(fs)
}
