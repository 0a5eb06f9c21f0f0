// Package model defines the data structures for promptdock's library,
// schedules, configuration, and supported sites.
package model

import (
	"fmt"
	"time"
)

// PromptStatus is a transient UI annotation maintained by the insertion
// pipeline and the response monitor. It is never set directly by the user.
type PromptStatus string

const (
	PromptStatusNone      PromptStatus = ""
	PromptStatusInserting PromptStatus = "inserting"
	PromptStatusCompleted PromptStatus = "completed"
)

type Prompt struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Body      string       `json:"body"`
	FolderID  string       `json:"folderId,omitempty"`
	CreatedAt string       `json:"createdAt"`
	UpdatedAt string       `json:"updatedAt,omitempty"`
	LastUsed  string       `json:"lastUsed,omitempty"`
	Status    PromptStatus `json:"status,omitempty"`
	Tags      []string     `json:"tags,omitempty"`
}

type Folder struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	ParentID       string   `json:"parentId,omitempty"`
	ChildFolderIDs []string `json:"childFolderIds"`
	PromptIDs      []string `json:"promptIds"`
	CreatedAt      string   `json:"createdAt,omitempty"`
}

// Schedule is created by the panel, consumed exactly once by the scheduler.
// Only ScheduleTime and AutoSubmit may change after creation, and only
// before the schedule fires.
type Schedule struct {
	ID           string `json:"id"`
	PromptID     string `json:"promptId"`
	ScheduleTime string `json:"scheduleTime"` // RFC3339 absolute time
	AutoSubmit   bool   `json:"autoSubmit"`
	Created      string `json:"created"`
	Updated      string `json:"updated,omitempty"`
}

// Time parses the absolute schedule time.
func (s *Schedule) Time() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s.ScheduleTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse scheduleTime of %s: %w", s.ID, err)
	}
	return t, nil
}

type Settings struct {
	GoToLLM           SiteKey `json:"goToLLM,omitempty"`
	AutoOpenPreferred bool    `json:"autoOpenPreferred,omitempty"`
}

// Library is the single persisted document holding the whole prompt library.
// The store is the source of truth; in-memory copies are transient and
// re-derived on every handler invocation.
type Library struct {
	Version        int               `json:"version"`
	Folders        []Folder          `json:"folders"`
	Prompts        map[string]Prompt `json:"prompts"`
	Settings       Settings          `json:"settings"`
	Scheduled      []Schedule        `json:"scheduled,omitempty"`
	RecentPromptID string            `json:"recentPromptId,omitempty"`
}

// NewLibrary returns an initialized library with the root folder, matching
// what setup writes on first run.
func NewLibrary() *Library {
	return &Library{
		Version: 1,
		Folders: []Folder{{
			ID:             RootFolderID,
			Name:           "Root",
			ChildFolderIDs: []string{},
			PromptIDs:      []string{},
		}},
		Prompts: map[string]Prompt{},
	}
}

// Folder returns the folder with the given id, or nil.
func (l *Library) Folder(id string) *Folder {
	for i := range l.Folders {
		if l.Folders[i].ID == id {
			return &l.Folders[i]
		}
	}
	return nil
}

// Schedule returns the schedule with the given id, or nil.
func (l *Library) Schedule(id string) *Schedule {
	for i := range l.Scheduled {
		if l.Scheduled[i].ID == id {
			return &l.Scheduled[i]
		}
	}
	return nil
}

// RemoveSchedule deletes the schedule with the given id. Reports whether an
// entry was removed.
func (l *Library) RemoveSchedule(id string) bool {
	for i := range l.Scheduled {
		if l.Scheduled[i].ID == id {
			l.Scheduled = append(l.Scheduled[:i], l.Scheduled[i+1:]...)
			return true
		}
	}
	return false
}

// CreateFolder adds a folder under parentID (root when empty).
func (l *Library) CreateFolder(name, parentID string) (*Folder, error) {
	if parentID == "" {
		parentID = RootFolderID
	}
	parent := l.Folder(parentID)
	if parent == nil {
		return nil, fmt.Errorf("parent folder not found: %s", parentID)
	}

	id, err := GenerateID(IDTypeFolder)
	if err != nil {
		return nil, err
	}
	l.Folders = append(l.Folders, Folder{
		ID:             id,
		Name:           name,
		ParentID:       parentID,
		ChildFolderIDs: []string{},
		PromptIDs:      []string{},
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
	})
	// Re-resolve: the append above may have moved the backing array.
	parent = l.Folder(parentID)
	parent.ChildFolderIDs = append(parent.ChildFolderIDs, id)
	return l.Folder(id), nil
}

// DeleteFolder removes a folder, all descendant folders, and every prompt
// they contain. The root folder cannot be deleted.
func (l *Library) DeleteFolder(id string) error {
	if id == RootFolderID {
		return fmt.Errorf("cannot delete root folder")
	}
	folder := l.Folder(id)
	if folder == nil {
		return fmt.Errorf("folder not found: %s", id)
	}

	// Collect the subtree first; mutation below invalidates traversal.
	doomed := l.collectSubtree(id)

	for _, fid := range doomed {
		f := l.Folder(fid)
		if f == nil {
			continue
		}
		for _, pid := range f.PromptIDs {
			delete(l.Prompts, pid)
		}
	}

	if folder.ParentID != "" {
		if parent := l.Folder(folder.ParentID); parent != nil {
			parent.ChildFolderIDs = removeString(parent.ChildFolderIDs, id)
		}
	}

	kept := l.Folders[:0]
	dead := make(map[string]bool, len(doomed))
	for _, fid := range doomed {
		dead[fid] = true
	}
	for _, f := range l.Folders {
		if !dead[f.ID] {
			kept = append(kept, f)
		}
	}
	l.Folders = kept
	return nil
}

func (l *Library) collectSubtree(id string) []string {
	var out []string
	var walk func(string)
	seen := map[string]bool{}
	walk = func(fid string) {
		if seen[fid] {
			return
		}
		seen[fid] = true
		out = append(out, fid)
		if f := l.Folder(fid); f != nil {
			for _, child := range f.ChildFolderIDs {
				walk(child)
			}
		}
	}
	walk(id)
	return out
}

// CreatePrompt adds a prompt to folderID (root when empty).
func (l *Library) CreatePrompt(title, body, folderID string) (*Prompt, error) {
	if folderID == "" {
		folderID = RootFolderID
	}
	folder := l.Folder(folderID)
	if folder == nil {
		return nil, fmt.Errorf("folder not found: %s", folderID)
	}

	id, err := GenerateID(IDTypePrompt)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	p := Prompt{
		ID:        id,
		Title:     title,
		Body:      body,
		FolderID:  folderID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if l.Prompts == nil {
		l.Prompts = map[string]Prompt{}
	}
	l.Prompts[id] = p
	folder.PromptIDs = append(folder.PromptIDs, id)
	return &p, nil
}

// UpdatePrompt applies a mutation to an existing prompt.
func (l *Library) UpdatePrompt(id string, fn func(*Prompt)) error {
	p, ok := l.Prompts[id]
	if !ok {
		return fmt.Errorf("prompt not found: %s", id)
	}
	fn(&p)
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	l.Prompts[id] = p
	return nil
}

// DeletePrompt removes a prompt and its folder reference.
func (l *Library) DeletePrompt(id string) error {
	p, ok := l.Prompts[id]
	if !ok {
		return fmt.Errorf("prompt not found: %s", id)
	}
	if folder := l.Folder(p.FolderID); folder != nil {
		folder.PromptIDs = removeString(folder.PromptIDs, id)
	}
	delete(l.Prompts, id)
	if l.RecentPromptID == id {
		l.RecentPromptID = ""
	}
	return nil
}

// Validate checks the folder-tree invariants: every referenced id exists and
// parent links never point into their own subtree.
func (l *Library) Validate() error {
	folders := make(map[string]*Folder, len(l.Folders))
	for i := range l.Folders {
		f := &l.Folders[i]
		if _, dup := folders[f.ID]; dup {
			return fmt.Errorf("duplicate folder id: %s", f.ID)
		}
		folders[f.ID] = f
	}

	for _, f := range l.Folders {
		if f.ParentID != "" {
			if _, ok := folders[f.ParentID]; !ok {
				return fmt.Errorf("folder %s references missing parent %s", f.ID, f.ParentID)
			}
		}
		for _, child := range f.ChildFolderIDs {
			c, ok := folders[child]
			if !ok {
				return fmt.Errorf("folder %s references missing child %s", f.ID, child)
			}
			if c.ParentID != f.ID {
				return fmt.Errorf("folder %s claims child %s whose parent is %s", f.ID, child, c.ParentID)
			}
		}
		for _, pid := range f.PromptIDs {
			if _, ok := l.Prompts[pid]; !ok {
				return fmt.Errorf("folder %s references missing prompt %s", f.ID, pid)
			}
		}
	}

	// Cycle check: walking parent links from any folder must terminate.
	for _, f := range l.Folders {
		seen := map[string]bool{}
		for cur := f.ID; cur != ""; {
			if seen[cur] {
				return fmt.Errorf("folder tree cycle through %s", cur)
			}
			seen[cur] = true
			cur = folders[cur].ParentID
		}
	}

	for id, p := range l.Prompts {
		if p.ID != id {
			return fmt.Errorf("prompt key %s does not match id %s", id, p.ID)
		}
		if p.FolderID != "" {
			if _, ok := folders[p.FolderID]; !ok {
				return fmt.Errorf("prompt %s references missing folder %s", id, p.FolderID)
			}
		}
	}
	return nil
}

func removeString(xs []string, s string) []string {
	out := xs[:0]
	for _, x := range xs {
		if x != s {
			out = append(out, x)
		}
	}
	return out
}
