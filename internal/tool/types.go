package tool

import "time"

// Tool is one catalogue entry.
type Tool struct {
	ID            string `json:"id"`
	Number        int    `json:"number" validate:"required,min=1,max=9999"`
	Location      string `json:"location" validate:"max=50"`
	Description   string `json:"description" validate:"max=200"`
	ArticleNumber string `json:"article_number" validate:"max=50"`

	// Stock limits are optional; when both are set MinStock <= MaxStock.
	MinStock *int `json:"min_stock,omitempty" validate:"omitempty,min=0"`
	MaxStock *int `json:"max_stock,omitempty" validate:"omitempty,min=0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
