package daemon

import (
	"context"
	"encoding/json"
	"time"

	"github.com/promptdock/promptdock/internal/bridge"
	"github.com/promptdock/promptdock/internal/events"
	"github.com/promptdock/promptdock/internal/model"
	"github.com/promptdock/promptdock/internal/pipeline"
	"github.com/promptdock/promptdock/internal/store"
)

const version = "1.0.0"

// registerHandlers registers bridge request handlers. Every handler re-reads
// whatever it needs from the store; nothing is answered from memory.
func (d *Daemon) registerHandlers() {
	d.server.Handle(bridge.MsgPing, func(req *bridge.Request) *bridge.Response {
		return bridge.SuccessResponse(map[string]string{"status": "ok", "version": version})
	})

	d.server.Handle(bridge.MsgShutdown, func(req *bridge.Request) *bridge.Response {
		d.logger.Infof("shutdown requested via bridge")
		go d.Shutdown()
		return bridge.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})

	d.server.Handle(bridge.MsgGetLibraryData, d.handleGetLibrary)
	d.server.Handle(bridge.MsgSaveLibraryData, d.handleSaveLibrary)
	d.server.Handle(bridge.MsgUpdateLibraryData, d.handleUpdateLibrary)
	d.server.Handle(bridge.MsgInsertPrompt, d.handleInsertPrompt)
	d.server.Handle(bridge.MsgReadCurrentInput, d.handleReadCurrentInput)
	d.server.Handle(bridge.MsgSubmitPrompt, d.handleSubmitPrompt)
	d.server.Handle(bridge.MsgCheckLLMStatus, d.handleCheckLLMStatus)
	d.server.Handle(bridge.MsgSchedulePromptExecution, d.handleSchedule)
	d.server.Handle(bridge.MsgCancelSchedule, d.handleCancelSchedule)
	d.server.Handle(bridge.MsgOpenLLMAndClosePanel, d.handleOpenLLM)
	d.server.Handle(bridge.MsgRefreshConnection, d.handleRefreshConnection)
	d.server.Handle(bridge.MsgImportExternalPrompt, d.handleImportPrompt)
}

// reqCtx bounds a single handler invocation.
func (d *Daemon) reqCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(d.ctx, time.Duration(d.config.Daemon.ConnTimeoutSec)*time.Second)
}

// failCode maps a pipeline failure class to the bridge error code.
func failCode(res pipeline.Result) string {
	switch res.Fail {
	case pipeline.FailNotFound:
		return bridge.ErrCodeNotFound
	case pipeline.FailTransient:
		return bridge.ErrCodeTransient
	default:
		return bridge.ErrCodeUserActionRequired
	}
}

func (d *Daemon) handleGetLibrary(req *bridge.Request) *bridge.Response {
	lib, err := store.LoadLibrary(d.store)
	if err != nil {
		return bridge.ErrorResponse(bridge.ErrCodeInternal, err.Error())
	}
	return bridge.SuccessResponse(lib)
}

func (d *Daemon) handleSaveLibrary(req *bridge.Request) *bridge.Response {
	var lib model.Library
	if err := json.Unmarshal(req.Params, &lib); err != nil {
		return bridge.ErrorResponse(bridge.ErrCodeValidation, "invalid library payload: "+err.Error())
	}
	if err := lib.Validate(); err != nil {
		return bridge.ErrorResponse(bridge.ErrCodeValidation, err.Error())
	}
	if err := store.SaveLibrary(d.store, &lib); err != nil {
		return bridge.ErrorResponse(bridge.ErrCodeInternal, err.Error())
	}
	return bridge.SuccessResponse(nil)
}

// handleUpdateLibrary merges the given top-level fields into the stored
// library, leaving unmentioned fields untouched.
func (d *Daemon) handleUpdateLibrary(req *bridge.Request) *bridge.Response {
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(req.Params, &patch); err != nil {
		return bridge.ErrorResponse(bridge.ErrCodeValidation, "invalid patch payload: "+err.Error())
	}
	if len(patch) == 0 {
		return bridge.ErrorResponse(bridge.ErrCodeValidation, "empty patch")
	}

	lib, err := store.LoadLibrary(d.store)
	if err != nil {
		return bridge.ErrorResponse(bridge.ErrCodeInternal, err.Error())
	}

	merged, err := mergeLibrary(lib, patch)
	if err != nil {
		return bridge.ErrorResponse(bridge.ErrCodeValidation, err.Error())
	}
	if err := merged.Validate(); err != nil {
		return bridge.ErrorResponse(bridge.ErrCodeValidation, err.Error())
	}
	if err := store.SaveLibrary(d.store, merged); err != nil {
		return bridge.ErrorResponse(bridge.ErrCodeInternal, err.Error())
	}
	return bridge.SuccessResponse(merged)
}

func mergeLibrary(lib *model.Library, patch map[string]json.RawMessage) (*model.Library, error) {
	raw, err := json.Marshal(lib)
	if err != nil {
		return nil, err
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, err
	}
	for k, v := range patch {
		top[k] = v
	}
	combined, err := json.Marshal(top)
	if err != nil {
		return nil, err
	}
	var out model.Library
	if err := json.Unmarshal(combined, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (d *Daemon) handleInsertPrompt(req *bridge.Request) *bridge.Response {
	var p bridge.InsertPromptParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return bridge.ErrorResponse(bridge.ErrCodeValidation, "invalid params: "+err.Error())
	}

	text := p.Text
	if p.PromptID != "" {
		lib, err := store.LoadLibrary(d.store)
		if err != nil {
			return bridge.ErrorResponse(bridge.ErrCodeInternal, err.Error())
		}
		prompt, ok := lib.Prompts[p.PromptID]
		if !ok {
			return bridge.ErrorResponse(bridge.ErrCodeNotFound, "prompt not found: "+p.PromptID)
		}
		text = prompt.Body
	}
	if text == "" {
		return bridge.ErrorResponse(bridge.ErrCodeValidation, "nothing to insert: text and promptId both empty")
	}

	ctx, cancel := d.reqCtx()
	defer cancel()

	res := d.pipe.Insert(ctx, p.TabID, text)
	if !res.Success {
		return bridge.ErrorResponse(failCode(res), res.Error)
	}

	if p.PromptID != "" {
		d.recordInsertion(ctx, p.PromptID, p.TabID, res.Method)
	}
	d.bus.Publish(events.EventPromptInserted, map[string]interface{}{
		"prompt_id": p.PromptID,
		"tab_id":    p.TabID,
		"method":    res.Method,
	})
	return bridge.SuccessResponse(bridge.InsertResult{Method: res.Method})
}

// recordInsertion stamps the prompt's lastUsed and status and, for direct
// inserts, starts the response monitor. Clipboard inserts have nothing to
// watch and complete immediately.
func (d *Daemon) recordInsertion(ctx context.Context, promptID string, tabID int, method string) {
	status := model.PromptStatusInserting
	if method == pipeline.MethodClipboard {
		status = model.PromptStatusCompleted
	}
	_, err := store.UpdateLibrary(d.store, func(lib *model.Library) error {
		if _, ok := lib.Prompts[promptID]; !ok {
			return nil
		}
		lib.RecentPromptID = promptID
		return lib.UpdatePrompt(promptID, func(p *model.Prompt) {
			p.LastUsed = time.Now().UTC().Format(time.RFC3339)
			p.Status = status
		})
	})
	if err != nil {
		d.logger.Warnf("record insertion prompt=%s: %v", promptID, err)
	}
	if status == model.PromptStatusInserting {
		d.monitor.Start(d.ctx, promptID, tabID)
	}
}

func (d *Daemon) handleReadCurrentInput(req *bridge.Request) *bridge.Response {
	var p bridge.TabParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return bridge.ErrorResponse(bridge.ErrCodeValidation, "invalid params: "+err.Error())
		}
	}

	ctx, cancel := d.reqCtx()
	defer cancel()

	res := d.pipe.ReadCurrentInput(ctx, p.TabID)
	if !res.Success {
		return bridge.ErrorResponse(failCode(res), res.Error)
	}
	return bridge.SuccessResponse(bridge.ReadResult{Text: res.Text, Method: res.Method})
}

func (d *Daemon) handleSubmitPrompt(req *bridge.Request) *bridge.Response {
	var p bridge.TabParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return bridge.ErrorResponse(bridge.ErrCodeValidation, "invalid params: "+err.Error())
		}
	}

	ctx, cancel := d.reqCtx()
	defer cancel()

	res := d.pipe.Submit(ctx, p.TabID)
	if !res.Success {
		return bridge.ErrorResponse(failCode(res), res.Error)
	}
	return bridge.SuccessResponse(nil)
}

func (d *Daemon) handleCheckLLMStatus(req *bridge.Request) *bridge.Response {
	var p bridge.TabParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return bridge.ErrorResponse(bridge.ErrCodeValidation, "invalid params: "+err.Error())
		}
	}

	ctx, cancel := d.reqCtx()
	defer cancel()

	completed, res := d.pipe.CheckGenerationStatus(ctx, p.TabID)
	if !res.Success {
		return bridge.ErrorResponse(failCode(res), res.Error)
	}
	return bridge.SuccessResponse(bridge.StatusResult{Completed: completed})
}

// handleSchedule arms a timer for a stored schedule. Only the schedule id and
// time travel in the message; everything else is re-read from the store so a
// stale panel cannot smuggle in outdated fields.
func (d *Daemon) handleSchedule(req *bridge.Request) *bridge.Response {
	var p bridge.ScheduleParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return bridge.ErrorResponse(bridge.ErrCodeValidation, "invalid params: "+err.Error())
	}
	if p.ScheduleID == "" {
		return bridge.ErrorResponse(bridge.ErrCodeValidation, "scheduleId is required")
	}

	lib, err := store.LoadLibrary(d.store)
	if err != nil {
		return bridge.ErrorResponse(bridge.ErrCodeInternal, err.Error())
	}
	sched := lib.Schedule(p.ScheduleID)
	if sched == nil {
		return bridge.ErrorResponse(bridge.ErrCodeNotFound, "schedule not found: "+p.ScheduleID)
	}

	if err := d.sched.Arm(*sched); err != nil {
		return bridge.ErrorResponse(bridge.ErrCodeValidation, err.Error())
	}
	return bridge.SuccessResponse(map[string]string{"scheduleId": sched.ID, "scheduleTime": sched.ScheduleTime})
}

func (d *Daemon) handleCancelSchedule(req *bridge.Request) *bridge.Response {
	var p bridge.ScheduleParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return bridge.ErrorResponse(bridge.ErrCodeValidation, "invalid params: "+err.Error())
	}
	if p.ScheduleID == "" {
		return bridge.ErrorResponse(bridge.ErrCodeValidation, "scheduleId is required")
	}
	if err := d.sched.Cancel(p.ScheduleID); err != nil {
		return bridge.ErrorResponse(bridge.ErrCodeInternal, err.Error())
	}
	return bridge.SuccessResponse(nil)
}

func (d *Daemon) handleOpenLLM(req *bridge.Request) *bridge.Response {
	var p bridge.OpenLLMParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return bridge.ErrorResponse(bridge.ErrCodeValidation, "invalid params: "+err.Error())
	}

	key := model.SiteKey(p.LLM)
	if key == "" {
		key = model.DefaultSite
	}
	site, ok := model.SiteByKey(key)
	if !ok {
		return bridge.ErrorResponse(bridge.ErrCodeValidation, "unknown llm: "+p.LLM)
	}

	ctx, cancel := d.reqCtx()
	defer cancel()

	tab, err := d.tabs.Create(ctx, site.URL)
	if err != nil {
		return bridge.ErrorResponse(bridge.ErrCodeInternal, err.Error())
	}
	return bridge.SuccessResponse(map[string]interface{}{"tabId": tab.ID, "url": site.URL})
}

// handleRefreshConnection re-runs agent provisioning for a tab. EnsureAgent
// is idempotent, so this is safe to hammer from a panel retry button.
func (d *Daemon) handleRefreshConnection(req *bridge.Request) *bridge.Response {
	var p bridge.TabParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return bridge.ErrorResponse(bridge.ErrCodeValidation, "invalid params: "+err.Error())
		}
	}

	ctx, cancel := d.reqCtx()
	defer cancel()

	tab, res := pipeline.ResolveTab(ctx, d.tabs, p.TabID)
	if res != nil {
		return bridge.ErrorResponse(bridge.ErrCodeNotFound, res.Error)
	}
	if !d.provisioner.EnsureAgent(ctx, tab) {
		return bridge.ErrorResponse(bridge.ErrCodeTransient, "could not establish agent in tab")
	}
	d.bus.Publish(events.EventAgentProvisioned, map[string]interface{}{
		"tab_id": tab.ID,
	})
	return bridge.SuccessResponse(map[string]int{"tabId": tab.ID})
}

func (d *Daemon) handleImportPrompt(req *bridge.Request) *bridge.Response {
	var p bridge.ImportPromptParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return bridge.ErrorResponse(bridge.ErrCodeValidation, "invalid params: "+err.Error())
	}
	if p.Title == "" || p.Body == "" {
		return bridge.ErrorResponse(bridge.ErrCodeValidation, "title and body are required")
	}

	folderID := p.FolderID
	if folderID == "" {
		folderID = model.RootFolderID
	}

	var created model.Prompt
	_, err := store.UpdateLibrary(d.store, func(lib *model.Library) error {
		prompt, err := lib.CreatePrompt(p.Title, p.Body, folderID)
		if err != nil {
			return err
		}
		if len(p.Tags) > 0 {
			if err := lib.UpdatePrompt(prompt.ID, func(pr *model.Prompt) {
				pr.Tags = p.Tags
			}); err != nil {
				return err
			}
		}
		created = lib.Prompts[prompt.ID]
		return nil
	})
	if err != nil {
		return bridge.ErrorResponse(bridge.ErrCodeValidation, err.Error())
	}
	return bridge.SuccessResponse(created)
}
