package model

import "time"

// Receipt is the downstream acknowledgement of one submitted record.
type Receipt struct {
	ID         string    `json:"id"`
	Downstream string    `json:"downstream"`
	Resource   string    `json:"resource,omitempty"`
	Duplicate  bool      `json:"duplicate,omitempty"`
	AcceptedAt time.Time `json:"accepted_at"`
}
