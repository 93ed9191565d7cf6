package domain

import "time"

// Status is the lifecycle state of a resume job.
type Status string

const (
	StatusUploaded Status = "uploaded"
	StatusParsing  Status = "parsing"
	StatusParsed   Status = "parsed"
	StatusScoring  Status = "scoring"
	StatusScored   Status = "scored"
	StatusError    Status = "error"
)

// Terminal reports whether the pipeline defines no further automatic
// transition out of s. A scored job can still be rescored through the
// explicit rescore endpoint.
func (s Status) Terminal() bool {
	return s == StatusScored || s == StatusError
}

// Job tracks one uploaded resume through parsing and scoring.
// Rows are created by the upload handler in StatusUploaded and mutated
// only by the pipeline afterwards.
type Job struct {
	ID           string  `gorm:"primaryKey;size:36"`
	OwnerID      string  `gorm:"size:36;not null;index"`
	Status       Status  `gorm:"size:16;not null;default:'uploaded'"`
	StoragePath  string  `gorm:"size:512;not null"`
	ContentType  string  `gorm:"size:128;not null"`
	ErrorMessage string  `gorm:"type:text"`
	ParsedJSON   *string `gorm:"type:json"`
	ScoreJSON    *string `gorm:"type:json"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
