package models

import "time"

// Submission is one department's contributed rows against a Request.
type Submission struct {
	Department string    `json:"department"`
	Rows       []Row     `json:"rows"`
	Completed  bool      `json:"completed"`
	CreatedAt  time.Time `json:"createdAt"`
}
