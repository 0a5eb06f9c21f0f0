package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/promptdock/promptdock/internal/bridge"
	"github.com/promptdock/promptdock/internal/model"
)

var (
	flagAt         string
	flagAutoSubmit bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Schedule prompts for later delivery",
}

func init() {
	scheduleAddCmd.Flags().StringVar(&flagAt, "at", "", "when to fire: RFC3339 timestamp or a duration like 30m (required)")
	scheduleAddCmd.Flags().BoolVar(&flagAutoSubmit, "auto-submit", false, "submit the prompt after inserting it")
	_ = scheduleAddCmd.MarkFlagRequired("at")

	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleCancelCmd)
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add <promptId>",
	Short: "Schedule a stored prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		when, err := parseWhen(flagAt)
		if err != nil {
			return err
		}

		lib, err := fetchLibrary()
		if err != nil {
			return err
		}
		promptID := args[0]
		if _, ok := lib.Prompts[promptID]; !ok {
			return fmt.Errorf("prompt not found: %s", promptID)
		}

		id, err := model.GenerateID(model.IDTypeSchedule)
		if err != nil {
			return err
		}
		now := time.Now().UTC().Format(time.RFC3339)
		sched := model.Schedule{
			ID:           id,
			PromptID:     promptID,
			ScheduleTime: when.Format(time.RFC3339),
			AutoSubmit:   flagAutoSubmit,
			Created:      now,
			Updated:      now,
		}

		patch := map[string]any{"scheduled": append(lib.Scheduled, sched)}
		if _, err := call(bridge.MsgUpdateLibraryData, patch); err != nil {
			return err
		}
		if _, err := call(bridge.MsgSchedulePromptExecution, bridge.ScheduleParams{
			ScheduleID:   sched.ID,
			ScheduleTime: sched.ScheduleTime,
		}); err != nil {
			return err
		}

		fmt.Printf("scheduled %s at %s (%s)\n", promptID, sched.ScheduleTime, sched.ID)
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending schedules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := fetchLibrary()
		if err != nil {
			return err
		}
		if len(lib.Scheduled) == 0 {
			fmt.Println("no pending schedules")
			return nil
		}
		for _, s := range lib.Scheduled {
			title := s.PromptID
			if p, ok := lib.Prompts[s.PromptID]; ok {
				title = p.Title
			}
			auto := ""
			if s.AutoSubmit {
				auto = " (auto-submit)"
			}
			fmt.Printf("%s  %s  %q%s\n", s.ID, s.ScheduleTime, title, auto)
		}
		return nil
	},
}

var scheduleCancelCmd = &cobra.Command{
	Use:   "cancel <scheduleId>",
	Short: "Cancel a pending schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := call(bridge.MsgCancelSchedule, bridge.ScheduleParams{ScheduleID: args[0]}); err != nil {
			return err
		}
		fmt.Printf("cancelled %s\n", args[0])
		return nil
	},
}

// parseWhen accepts an absolute RFC3339 timestamp or a relative duration.
func parseWhen(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().Add(d), nil
	}
	return time.Time{}, fmt.Errorf("invalid --at %q: want RFC3339 time or duration like 30m", s)
}
