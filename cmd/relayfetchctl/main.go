// Package main implements relayfetchctl, the admin CLI client for a
// running relayfetchd instance.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"

	adminAddr string
)

var rootCmd = &cobra.Command{
	Use:   "relayfetchctl",
	Short: "Control a running relayfetchd instance over its admin HTTP API",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("relayfetchctl %s (%s)\n", version, commit)
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check daemon liveness",
	RunE: func(_ *cobra.Command, _ []string) error {
		var out map[string]string
		if err := doJSON(http.MethodGet, "/ping", nil, &out); err != nil {
			return err
		}
		fmt.Println(out["message"])
		return nil
	},
}

var reloadConfigCmd = &cobra.Command{
	Use:   "reload-config",
	Short: "Reload config.toml and files.toml from disk",
	RunE: func(_ *cobra.Command, _ []string) error {
		return doJSON(http.MethodPost, "/reload_config", nil, nil)
	},
}

var triggerSyncCmd = &cobra.Command{
	Use:   "trigger-sync",
	Short: "Trigger an immediate sync pass and watch its progress",
	RunE:  runTriggerSync,
}

var cleanUnusedCmd = &cobra.Command{
	Use:   "clean-unused-files",
	Short: "Remove files under storage_dir no longer present in the file map",
	RunE: func(_ *cobra.Command, _ []string) error {
		var out struct {
			Removed []string `json:"removed"`
		}
		if err := doJSON(http.MethodPost, "/clean_unused_files", nil, &out); err != nil {
			return err
		}
		if len(out.Removed) == 0 {
			fmt.Println("no files removed")
			return nil
		}
		for _, name := range out.Removed {
			fmt.Println("removed:", name)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current sync status",
	RunE: func(_ *cobra.Command, _ []string) error {
		var out map[string]any
		if err := doJSON(http.MethodGet, "/status", nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var listFilesCmd = &cobra.Command{
	Use:   "list-files",
	Short: "List mirrored files and their public URLs",
	RunE: func(_ *cobra.Command, _ []string) error {
		var out []map[string]any
		if err := doJSON(http.MethodGet, "/files", nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var getConfigCmd = &cobra.Command{
	Use:   "get-config",
	Short: "Print the current runtime config",
	RunE: func(_ *cobra.Command, _ []string) error {
		var out map[string]any
		if err := doJSON(http.MethodGet, "/config", nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd, pingCmd, reloadConfigCmd, triggerSyncCmd, cleanUnusedCmd, statusCmd, listFilesCmd, getConfigCmd)
	rootCmd.PersistentFlags().StringVarP(&adminAddr, "admin", "a", "127.0.0.1:9100", "admin HTTP address")
}

// runTriggerSync fires trigger_sync and polls status() to drive a live
// progress bar until the pass completes, the way the pack's huggingface
// downloader drives its pb.Pool from download progress.
func runTriggerSync(cmd *cobra.Command, args []string) error {
	done := make(chan error, 1)
	go func() {
		done <- doJSON(http.MethodPost, "/trigger_sync", nil, nil)
	}()

	bar := pb.New(0).SetTemplateString(`{{ "syncing:" }} {{ counters . }} files {{ bar . }} {{percent . }}`)
	bar.Start()
	defer bar.Finish()

	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			var status map[string]any
			if statErr := doJSON(http.MethodGet, "/status", nil, &status); statErr == nil {
				updateBar(bar, status)
			}
			if err != nil {
				return err
			}
			if result, _ := status["last_result"].(string); result != "" {
				fmt.Println("\nresult:", result)
			}
			return nil
		case <-ticker.C:
			var status map[string]any
			if err := doJSON(http.MethodGet, "/status", nil, &status); err == nil {
				updateBar(bar, status)
			}
		}
	}
}

func updateBar(bar *pb.ProgressBar, status map[string]any) {
	total, _ := status["total_files"].(float64)
	finished, _ := status["finished_files"].(float64)
	bar.SetTotal(int64(total))
	bar.SetCurrent(int64(finished))
}

func doJSON(method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}

	url := "http://" + strings.TrimPrefix(adminAddr, "http://") + path
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, errBody.Error)
		}
		return fmt.Errorf("request failed: %s", resp.Status)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
