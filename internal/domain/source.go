package domain

// SourceType distinguishes browsable ROM sources.
type SourceType string

const (
	SourceArchiveOrg SourceType = "archive_org"
	SourceLocal      SourceType = "local"
	SourceSMB        SourceType = "smb"
)

// Source is a named place the user browses ROMs from.
type Source struct {
	ID          string       `json:"id"`
	Name        string       `json:"name" validate:"required"`
	Type        SourceType   `json:"type" validate:"required,oneof=archive_org local smb"`
	Path        string       `json:"path"`
	Credentials *Credentials `json:"credentials,omitempty"`
}
