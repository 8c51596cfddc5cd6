package models

import "time"

const (
	EventRecipeSaved    = "recipe.saved"
	EventRecipeDeleted  = "recipe.deleted"
	EventBatchCommitted = "batch.committed"
)

type RecipeEvent struct {
	Type    string    `json:"type"`
	Slug    string    `json:"slug,omitempty"`
	Title   string    `json:"title,omitempty"`
	Tags    []string  `json:"tags,omitempty"`
	BatchID string    `json:"batch_id,omitempty"`
	Saved   []string  `json:"saved,omitempty"`
	At      time.Time `json:"at"`
}
