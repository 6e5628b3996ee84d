package models

import "time"

// SiteSettings is the singleton row of global feature switches.
// Created lazily on first read; toggled only by administrators.
type SiteSettings struct {
	EarlyUserPromotion bool      `json:"early_user_promotion"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
