package bridge

// Panel-facing message types handled by the daemon.
const (
	MsgPing                    = "PING"
	MsgGetLibraryData          = "GET_LIBRARY_DATA"
	MsgSaveLibraryData         = "SAVE_LIBRARY_DATA"
	MsgUpdateLibraryData       = "UPDATE_LIBRARY_DATA"
	MsgInsertPrompt            = "INSERT_PROMPT"
	MsgReadCurrentInput        = "READ_CURRENT_INPUT"
	MsgSubmitPrompt            = "SUBMIT_PROMPT"
	MsgCheckLLMStatus          = "CHECK_LLM_STATUS"
	MsgSchedulePromptExecution = "SCHEDULE_PROMPT_EXECUTION"
	MsgCancelSchedule          = "CANCEL_SCHEDULE"
	MsgOpenLLMAndClosePanel    = "OPEN_LLM_AND_CLOSE_PANEL"
	MsgRefreshConnection       = "REFRESH_CONNECTION"
	MsgImportExternalPrompt    = "IMPORT_EXTERNAL_PROMPT"
	MsgShutdown                = "SHUTDOWN"
)

// InsertPromptParams inserts literal text, or a stored prompt when PromptID
// is set (the prompt's lastUsed/status bookkeeping only happens for the
// latter). TabID zero means the currently active tab.
type InsertPromptParams struct {
	Text     string `json:"text,omitempty"`
	PromptID string `json:"promptId,omitempty"`
	TabID    int    `json:"tabId,omitempty"`
}

type TabParams struct {
	TabID int `json:"tabId,omitempty"`
}

type ScheduleParams struct {
	ScheduleID   string `json:"scheduleId"`
	ScheduleTime string `json:"scheduleTime"`
}

type OpenLLMParams struct {
	LLM          string `json:"llm"`
	CurrentTabID int    `json:"currentTabId,omitempty"`
}

type ImportPromptParams struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	FolderID string   `json:"folderId,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// InsertResult mirrors the pipeline outcome surfaced to panel clients.
type InsertResult struct {
	Method  string `json:"method,omitempty"` // "direct" or "clipboard"
	Message string `json:"message,omitempty"`
}

type ReadResult struct {
	Text   string `json:"text"`
	Method string `json:"method,omitempty"`
}

type StatusResult struct {
	Completed bool `json:"completed"`
}
