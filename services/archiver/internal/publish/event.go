package publish

import "time"

// RunEvent describes a finished archiver run for downstream consumers.
type RunEvent struct {
	RunID       string `json:"run_id"`
	CohortID    string `json:"cohort_id"`
	Strategy    string `json:"strategy"`
	Status      string `json:"status"`
	AuthMode    string `json:"auth_mode,omitempty"`
	Fetched     int    `json:"fetched"`
	Appended    int    `json:"appended"`
	Superseded  int    `json:"superseded"`
	Invalid     int    `json:"invalid"`
	ArchiveRows int    `json:"archive_rows"`
	ArchivePath string `json:"archive_path"`
	RecentPath  string `json:"recent_path"`
	// Object keys are set once the files have been uploaded.
	ArchiveObject string    `json:"archive_object,omitempty"`
	RecentObject  string    `json:"recent_object,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}
