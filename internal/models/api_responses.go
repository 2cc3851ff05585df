package models

// Progress summarizes how many departments have reported completion.
type Progress struct {
	RequestID            string `json:"requestId"`
	TotalDepartments     int    `json:"totalDepartments"`
	CompletedDepartments int    `json:"completedDepartments"`
	SubmissionCount      int    `json:"submissionCount"`
	Percent              int    `json:"percent"`
}

// Stats contains the dashboard counters across all requests.
type Stats struct {
	Total         int `json:"total"`
	Pending       int `json:"pending"`
	Completed     int `json:"completed"`
	WithReminders int `json:"withReminders"`
}

// SheetResponse is the combined view of a request.
type SheetResponse struct {
	RequestID string      `json:"requestId"`
	Columns   []string    `json:"columns"`
	Rows      []TaggedRow `json:"rows"`
}

// NotificationStatus reports what happened to the creation mail.
type NotificationStatus struct {
	Queued bool   `json:"queued"`
	Reason string `json:"reason,omitempty"`
}
