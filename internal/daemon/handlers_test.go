package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/promptdock/promptdock/internal/agent"
	"github.com/promptdock/promptdock/internal/bridge"
	"github.com/promptdock/promptdock/internal/events"
	"github.com/promptdock/promptdock/internal/model"
	"github.com/promptdock/promptdock/internal/pipeline"
	"github.com/promptdock/promptdock/internal/store"
	"github.com/promptdock/promptdock/internal/tabs"
	"github.com/promptdock/promptdock/internal/timer"
)

// agentTransport answers like a healthy page agent. Individual message types
// can be overridden to fail at the agent level (fail) or at the wire level
// (errs).
type agentTransport struct {
	fail map[string]string
	errs map[string]error
}

func (tr *agentTransport) Send(ctx context.Context, tabID int, msg agent.Message) (*agent.Response, error) {
	if err, ok := tr.errs[msg.Type]; ok {
		return nil, err
	}
	if errMsg, ok := tr.fail[msg.Type]; ok {
		return &agent.Response{Success: false, Error: errMsg}, nil
	}
	switch msg.Type {
	case agent.MsgReadCurrentInput:
		return &agent.Response{Success: true, Text: "composer draft"}, nil
	case agent.MsgCheckLLMStatus:
		return &agent.Response{Success: true, Completed: true}, nil
	default:
		return &agent.Response{Success: true}, nil
	}
}

type okInjector struct{}

func (okInjector) Inject(ctx context.Context, tabID int) error { return nil }

type memClipboard struct {
	content string
}

func (c *memClipboard) WriteText(ctx context.Context, text string) error {
	c.content = text
	return nil
}

func (c *memClipboard) ReadText(ctx context.Context) (string, error) {
	return c.content, nil
}

type testDaemon struct {
	d         *Daemon
	tabs      *tabs.Fake
	transport *agentTransport
	clip      *memClipboard
}

// newTestDaemon wires a daemon against fakes without starting the bridge
// server or signal handling.
func newTestDaemon(t *testing.T) *testDaemon {
	t.Helper()
	dir := t.TempDir()

	d, err := newDaemon(dir, model.Config{}, io.Discard, nil)
	require.NoError(t, err)
	t.Cleanup(d.cancel)

	require.NoError(t, d.openStore())
	timers, err := timer.NewDurable(filepath.Join(dir, "timers"))
	require.NoError(t, err)
	t.Cleanup(timers.Close)
	d.timers = timers
	d.bus = events.NewBus(16)

	td := &testDaemon{
		d:         d,
		tabs:      tabs.NewFake(),
		transport: &agentTransport{fail: map[string]string{}, errs: map[string]error{}},
		clip:      &memClipboard{},
	}
	d.SetBrowser(td.tabs, okInjector{}, td.transport)
	d.SetClipboard(td.clip)
	d.wire()
	return td
}

func (td *testDaemon) request(t *testing.T, msgType string, params any) *bridge.Request {
	t.Helper()
	req, err := bridge.NewRequest(msgType, params)
	require.NoError(t, err)
	return req
}

func (td *testDaemon) library(t *testing.T) *model.Library {
	t.Helper()
	lib, err := store.LoadLibrary(td.d.store)
	require.NoError(t, err)
	return lib
}

func (td *testDaemon) addPrompt(t *testing.T, title, body string) string {
	t.Helper()
	var id string
	_, err := store.UpdateLibrary(td.d.store, func(lib *model.Library) error {
		p, err := lib.CreatePrompt(title, body, "")
		if err != nil {
			return err
		}
		id = p.ID
		return nil
	})
	require.NoError(t, err)
	return id
}

func (td *testDaemon) addSchedule(t *testing.T, promptID string, when time.Time) string {
	t.Helper()
	id, err := model.GenerateID(model.IDTypeSchedule)
	require.NoError(t, err)
	_, err = store.UpdateLibrary(td.d.store, func(lib *model.Library) error {
		lib.Scheduled = append(lib.Scheduled, model.Schedule{
			ID:           id,
			PromptID:     promptID,
			ScheduleTime: when.UTC().Format(time.RFC3339),
			Created:      time.Now().UTC().Format(time.RFC3339),
		})
		return nil
	})
	require.NoError(t, err)
	return id
}

func requireErrorCode(t *testing.T, resp *bridge.Response, code string) {
	t.Helper()
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	require.Equal(t, code, resp.Error.Code)
}

func TestHandleGetLibrary(t *testing.T) {
	td := newTestDaemon(t)

	resp := td.d.handleGetLibrary(td.request(t, bridge.MsgGetLibraryData, nil))
	require.True(t, resp.Success)

	var lib model.Library
	require.NoError(t, json.Unmarshal(resp.Data, &lib))
	require.Len(t, lib.Folders, 1)
	require.Equal(t, model.RootFolderID, lib.Folders[0].ID)
	require.NotNil(t, lib.Prompts)
}

func TestHandleSaveLibrary(t *testing.T) {
	td := newTestDaemon(t)

	lib := model.NewLibrary()
	_, err := lib.CreatePrompt("Saved", "body", "")
	require.NoError(t, err)

	resp := td.d.handleSaveLibrary(td.request(t, bridge.MsgSaveLibraryData, lib))
	require.True(t, resp.Success)
	require.Len(t, td.library(t).Prompts, 1)
}

func TestHandleSaveLibraryRejectsInvalid(t *testing.T) {
	td := newTestDaemon(t)

	lib := model.NewLibrary()
	lib.Prompts["pmt_bogus"] = model.Prompt{ID: "pmt_bogus", Title: "orphan", FolderID: "fld_missing"}

	resp := td.d.handleSaveLibrary(td.request(t, bridge.MsgSaveLibraryData, lib))
	requireErrorCode(t, resp, bridge.ErrCodeValidation)
	require.Empty(t, td.library(t).Prompts)
}

func TestHandleUpdateLibraryMergesTopLevelFields(t *testing.T) {
	td := newTestDaemon(t)
	promptID := td.addPrompt(t, "Keep me", "body")

	patch := map[string]any{"settings": model.Settings{GoToLLM: model.SiteClaude}}
	resp := td.d.handleUpdateLibrary(td.request(t, bridge.MsgUpdateLibraryData, patch))
	require.True(t, resp.Success)

	lib := td.library(t)
	require.Equal(t, model.SiteClaude, lib.Settings.GoToLLM)
	require.Contains(t, lib.Prompts, promptID, "unmentioned fields must survive a patch")
}

func TestHandleUpdateLibraryEmptyPatch(t *testing.T) {
	td := newTestDaemon(t)
	resp := td.d.handleUpdateLibrary(td.request(t, bridge.MsgUpdateLibraryData, map[string]any{}))
	requireErrorCode(t, resp, bridge.ErrCodeValidation)
}

func TestMergeLibrary(t *testing.T) {
	lib := model.NewLibrary()
	_, err := lib.CreatePrompt("Original", "body", "")
	require.NoError(t, err)

	patch := map[string]json.RawMessage{
		"settings": json.RawMessage(`{"goToLLM":"gemini"}`),
	}
	merged, err := mergeLibrary(lib, patch)
	require.NoError(t, err)
	require.Equal(t, model.SiteGemini, merged.Settings.GoToLLM)
	require.Len(t, merged.Prompts, 1)
	require.Equal(t, lib.Version, merged.Version)
}

func TestHandleInsertPromptDirect(t *testing.T) {
	td := newTestDaemon(t)
	td.tabs.AddTab("https://claude.ai/new", true)
	promptID := td.addPrompt(t, "Insert me", "the prompt body")

	resp := td.d.handleInsertPrompt(td.request(t, bridge.MsgInsertPrompt, bridge.InsertPromptParams{PromptID: promptID}))
	require.True(t, resp.Success)

	var res bridge.InsertResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	require.Equal(t, pipeline.MethodDirect, res.Method)

	lib := td.library(t)
	require.Equal(t, promptID, lib.RecentPromptID)
	p := lib.Prompts[promptID]
	require.NotEmpty(t, p.LastUsed)
	require.Equal(t, model.PromptStatusInserting, p.Status)
}

func TestHandleInsertPromptClipboardFallback(t *testing.T) {
	td := newTestDaemon(t)
	td.tabs.AddTab("https://claude.ai/new", true)
	td.transport.fail[agent.MsgInsertPrompt] = "no usable input element found"
	promptID := td.addPrompt(t, "Insert me", "the prompt body")

	resp := td.d.handleInsertPrompt(td.request(t, bridge.MsgInsertPrompt, bridge.InsertPromptParams{PromptID: promptID}))
	require.True(t, resp.Success)

	var res bridge.InsertResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	require.Equal(t, pipeline.MethodClipboard, res.Method)
	require.Equal(t, "the prompt body", td.clip.content)
	require.Equal(t, model.PromptStatusCompleted, td.library(t).Prompts[promptID].Status)
}

func TestHandleInsertPromptRawText(t *testing.T) {
	td := newTestDaemon(t)
	td.tabs.AddTab("https://claude.ai/new", true)

	resp := td.d.handleInsertPrompt(td.request(t, bridge.MsgInsertPrompt, bridge.InsertPromptParams{Text: "ad-hoc text"}))
	require.True(t, resp.Success)
	require.Empty(t, td.library(t).RecentPromptID, "raw text insertion must not touch prompt bookkeeping")
}

func TestHandleInsertPromptUnknownPrompt(t *testing.T) {
	td := newTestDaemon(t)
	resp := td.d.handleInsertPrompt(td.request(t, bridge.MsgInsertPrompt, bridge.InsertPromptParams{PromptID: "pmt_000000000000_deadbeefdead"}))
	requireErrorCode(t, resp, bridge.ErrCodeNotFound)
}

func TestHandleInsertPromptUnknownTab(t *testing.T) {
	td := newTestDaemon(t)
	resp := td.d.handleInsertPrompt(td.request(t, bridge.MsgInsertPrompt, bridge.InsertPromptParams{Text: "raw", TabID: 99}))
	requireErrorCode(t, resp, bridge.ErrCodeNotFound)
}

func TestHandleInsertPromptNothingToInsert(t *testing.T) {
	td := newTestDaemon(t)
	resp := td.d.handleInsertPrompt(td.request(t, bridge.MsgInsertPrompt, bridge.InsertPromptParams{}))
	requireErrorCode(t, resp, bridge.ErrCodeValidation)
}

func TestHandleReadCurrentInput(t *testing.T) {
	td := newTestDaemon(t)
	td.tabs.AddTab("https://claude.ai/new", true)

	resp := td.d.handleReadCurrentInput(td.request(t, bridge.MsgReadCurrentInput, nil))
	require.True(t, resp.Success)

	var res bridge.ReadResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	require.Equal(t, "composer draft", res.Text)
	require.Equal(t, pipeline.MethodDirect, res.Method)
}

func TestHandleCheckLLMStatus(t *testing.T) {
	td := newTestDaemon(t)
	td.tabs.AddTab("https://claude.ai/new", true)

	resp := td.d.handleCheckLLMStatus(td.request(t, bridge.MsgCheckLLMStatus, nil))
	require.True(t, resp.Success)

	var res bridge.StatusResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	require.True(t, res.Completed)
}

func TestHandleSubmitPromptTransportError(t *testing.T) {
	td := newTestDaemon(t)
	td.tabs.AddTab("https://claude.ai/new", true)
	td.transport.errs[agent.MsgSubmitPrompt] = errors.New("tab connection lost")

	resp := td.d.handleSubmitPrompt(td.request(t, bridge.MsgSubmitPrompt, bridge.TabParams{}))
	requireErrorCode(t, resp, bridge.ErrCodeTransient)
}

func TestHandleScheduleArmsStoredSchedule(t *testing.T) {
	td := newTestDaemon(t)
	promptID := td.addPrompt(t, "Scheduled", "body")
	schedID := td.addSchedule(t, promptID, time.Now().Add(time.Hour))

	resp := td.d.handleSchedule(td.request(t, bridge.MsgSchedulePromptExecution, bridge.ScheduleParams{ScheduleID: schedID}))
	require.True(t, resp.Success)
	require.NotNil(t, td.d.timers.Get(schedID), "arming must create a durable timer")
}

func TestHandleScheduleUnknownSchedule(t *testing.T) {
	td := newTestDaemon(t)
	resp := td.d.handleSchedule(td.request(t, bridge.MsgSchedulePromptExecution, bridge.ScheduleParams{ScheduleID: "sch_missing"}))
	requireErrorCode(t, resp, bridge.ErrCodeNotFound)
}

func TestHandleCancelSchedule(t *testing.T) {
	td := newTestDaemon(t)
	promptID := td.addPrompt(t, "Scheduled", "body")
	schedID := td.addSchedule(t, promptID, time.Now().Add(time.Hour))
	require.True(t, td.d.handleSchedule(td.request(t, bridge.MsgSchedulePromptExecution, bridge.ScheduleParams{ScheduleID: schedID})).Success)

	resp := td.d.handleCancelSchedule(td.request(t, bridge.MsgCancelSchedule, bridge.ScheduleParams{ScheduleID: schedID}))
	require.True(t, resp.Success)
	require.Nil(t, td.d.timers.Get(schedID))
	require.Nil(t, td.library(t).Schedule(schedID))
}

func TestHandleOpenLLM(t *testing.T) {
	td := newTestDaemon(t)

	resp := td.d.handleOpenLLM(td.request(t, bridge.MsgOpenLLMAndClosePanel, bridge.OpenLLMParams{LLM: "claude"}))
	require.True(t, resp.Success)
	require.Equal(t, []string{"https://claude.ai"}, td.tabs.Created())

	resp = td.d.handleOpenLLM(td.request(t, bridge.MsgOpenLLMAndClosePanel, bridge.OpenLLMParams{LLM: "copilot"}))
	requireErrorCode(t, resp, bridge.ErrCodeValidation)
}

func TestHandleRefreshConnection(t *testing.T) {
	td := newTestDaemon(t)
	td.tabs.AddTab("https://claude.ai/new", true)

	resp := td.d.handleRefreshConnection(td.request(t, bridge.MsgRefreshConnection, nil))
	require.True(t, resp.Success)
}

func TestHandleRefreshConnectionNoActiveTab(t *testing.T) {
	td := newTestDaemon(t)
	resp := td.d.handleRefreshConnection(td.request(t, bridge.MsgRefreshConnection, nil))
	requireErrorCode(t, resp, bridge.ErrCodeNotFound)
}

func TestHandleImportPrompt(t *testing.T) {
	td := newTestDaemon(t)

	params := bridge.ImportPromptParams{Title: "Imported", Body: "body", Tags: []string{"review", "go"}}
	resp := td.d.handleImportPrompt(td.request(t, bridge.MsgImportExternalPrompt, params))
	require.True(t, resp.Success)

	var created model.Prompt
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	require.Equal(t, "Imported", created.Title)
	require.Equal(t, model.RootFolderID, created.FolderID)
	require.Equal(t, []string{"review", "go"}, created.Tags)

	lib := td.library(t)
	require.Contains(t, lib.Prompts, created.ID)
	require.Contains(t, lib.Folders[0].PromptIDs, created.ID)
}

func TestHandleImportPromptValidation(t *testing.T) {
	td := newTestDaemon(t)

	resp := td.d.handleImportPrompt(td.request(t, bridge.MsgImportExternalPrompt, bridge.ImportPromptParams{Title: "no body"}))
	requireErrorCode(t, resp, bridge.ErrCodeValidation)

	resp = td.d.handleImportPrompt(td.request(t, bridge.MsgImportExternalPrompt, bridge.ImportPromptParams{Title: "x", Body: "y", FolderID: "fld_missing"}))
	requireErrorCode(t, resp, bridge.ErrCodeValidation)
}
