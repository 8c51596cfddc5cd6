package models

import "time"

const (
	ActionSave   = "save"
	ActionDelete = "delete"
	ActionCommit = "commit"
)

// JournalEntry is one row of the ingest history.
type JournalEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title,omitempty"`
	SourceURL string    `json:"source_url,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
