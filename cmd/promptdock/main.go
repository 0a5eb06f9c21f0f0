// Command promptdock manages a prompt library and delivers prompts into LLM
// web UIs. The daemon subcommand runs the background process; every other
// subcommand is a thin client talking to it over the unix-socket bridge.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/promptdock/promptdock/internal/bridge"
	"github.com/promptdock/promptdock/internal/browser"
	"github.com/promptdock/promptdock/internal/daemon"
	"github.com/promptdock/promptdock/internal/logging"
	"github.com/promptdock/promptdock/internal/model"
	"github.com/promptdock/promptdock/internal/setup"
	"github.com/promptdock/promptdock/internal/status"
)

const version = "1.0.0"

var (
	flagDir      string
	flagLogLevel string
	flagJSON     bool
	flagTab      int
	flagPromptID string
)

var rootCmd = &cobra.Command{
	Use:   "promptdock",
	Short: "Prompt library with scheduled delivery into LLM web UIs",
	Long: `promptdock stores a folder tree of prompts and delivers them into the
composer of a supported LLM site (Claude, ChatGPT, Gemini, Perplexity),
immediately or on a schedule. The background daemon owns all state; run
'promptdock setup' once, then 'promptdock daemon'.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "", "base directory (default $PROMPTDOCK_DIR or ~/.promptdock)")

	daemonCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "override configured log level")
	statusCmd.Flags().BoolVar(&flagJSON, "json", false, "print status as JSON")

	insertCmd.Flags().StringVar(&flagPromptID, "prompt", "", "insert a stored prompt by id instead of literal text")
	for _, c := range []*cobra.Command{insertCmd, readCmd, submitCmd, llmStatusCmd} {
		c.Flags().IntVar(&flagTab, "tab", 0, "target tab id (default: active tab)")
	}

	rootCmd.AddCommand(daemonCmd, setupCmd, statusCmd, versionCmd,
		insertCmd, readCmd, submitCmd, llmStatusCmd, openCmd,
		scheduleCmd, libraryCmd)
}

func resolveDir() (string, error) {
	if flagDir != "" {
		return flagDir, nil
	}
	return setup.DefaultDir()
}

func newClient() (*bridge.Client, error) {
	dir, err := resolveDir()
	if err != nil {
		return nil, err
	}
	return bridge.NewClient(filepath.Join(dir, bridge.DefaultSocketName)), nil
}

// call sends one request and fails on a bridge-level error response.
func call(msgType string, params any) (*bridge.Response, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}
	resp, err := client.SendType(msgType, params)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
		}
		return nil, fmt.Errorf("request failed")
	}
	return resp, nil
}

func fetchLibrary() (*model.Library, error) {
	resp, err := call(bridge.MsgGetLibraryData, nil)
	if err != nil {
		return nil, err
	}
	var lib model.Library
	if err := json.Unmarshal(resp.Data, &lib); err != nil {
		return nil, fmt.Errorf("decode library: %w", err)
	}
	return &lib, nil
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background daemon (foreground process)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveDir()
		if err != nil {
			return err
		}
		cfg, err := setup.LoadConfig(dir)
		if err != nil {
			return fmt.Errorf("%w (run 'promptdock setup' first)", err)
		}
		if flagLogLevel != "" {
			cfg.Logging.Level = flagLogLevel
		}

		d, err := daemon.New(dir, cfg)
		if err != nil {
			return err
		}

		if cfg.Browser.Enabled {
			logger := logging.New(os.Stderr, logging.ParseLevel(cfg.Logging.Level), "browser")
			br, err := browser.New(context.Background(), cfg.Browser, logger)
			if err != nil {
				return fmt.Errorf("start browser: %w", err)
			}
			defer br.Close()
			d.SetBrowser(br, br, br)
		}

		return d.Run()
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Initialize the promptdock directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveDir()
		if err != nil {
			return err
		}
		if err := setup.Run(dir); err != nil {
			return err
		}
		fmt.Printf("initialized %s\n", dir)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon liveness and library counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveDir()
		if err != nil {
			return err
		}
		return status.Run(dir, flagJSON, os.Stdout)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("promptdock %s\n", version)
	},
}

var insertCmd = &cobra.Command{
	Use:   "insert [text]",
	Short: "Insert text or a stored prompt into an LLM tab",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := bridge.InsertPromptParams{PromptID: flagPromptID, TabID: flagTab}
		if len(args) == 1 {
			params.Text = args[0]
		}
		if params.Text == "" && params.PromptID == "" {
			return fmt.Errorf("give text to insert, or --prompt <id>")
		}

		resp, err := call(bridge.MsgInsertPrompt, params)
		if err != nil {
			return err
		}
		var res bridge.InsertResult
		_ = json.Unmarshal(resp.Data, &res)
		if res.Method == "clipboard" {
			fmt.Println("copied to clipboard; paste it into the page")
		} else {
			fmt.Println("inserted")
		}
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read the current composer text from an LLM tab",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(bridge.MsgReadCurrentInput, bridge.TabParams{TabID: flagTab})
		if err != nil {
			return err
		}
		var res bridge.ReadResult
		_ = json.Unmarshal(resp.Data, &res)
		fmt.Println(res.Text)
		return nil
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit the composer in an LLM tab",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := call(bridge.MsgSubmitPrompt, bridge.TabParams{TabID: flagTab}); err != nil {
			return err
		}
		fmt.Println("submitted")
		return nil
	},
}

var llmStatusCmd = &cobra.Command{
	Use:   "llm-status",
	Short: "Report whether the LLM has finished generating",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(bridge.MsgCheckLLMStatus, bridge.TabParams{TabID: flagTab})
		if err != nil {
			return err
		}
		var res bridge.StatusResult
		_ = json.Unmarshal(resp.Data, &res)
		if res.Completed {
			fmt.Println("completed")
		} else {
			fmt.Println("generating")
		}
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:   "open <llm>",
	Short: "Open an LLM site in a new tab (claude, chatgpt, gemini, perplexity)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(bridge.MsgOpenLLMAndClosePanel, bridge.OpenLLMParams{LLM: args[0]})
		if err != nil {
			return err
		}
		var res struct {
			TabID int    `json:"tabId"`
			URL   string `json:"url"`
		}
		_ = json.Unmarshal(resp.Data, &res)
		fmt.Printf("opened %s in tab %d\n", res.URL, res.TabID)
		return nil
	},
}
