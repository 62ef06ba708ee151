package domain

// RomFile is what the metadata lookup knows about a downloaded file.
type RomFile struct {
	Name         string
	Path         string
	Size         int64
	CRC          string
	InternalName string
}

// GameMetadata is the best-effort answer of a metadata lookup.
type GameMetadata struct {
	Name         string `json:"name,omitempty"`
	RomName      string `json:"rom_name,omitempty"`
	SystemID     string `json:"system_id,omitempty"`
	Developer    string `json:"developer,omitempty"`
	Description  string `json:"description,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// ClassificationResult is computed once per job after the download.
type ClassificationResult struct {
	CRC          string
	InternalName string
	SystemID     string
	Detected     bool
	Metadata     *GameMetadata
}
