package domain

import (
	"path"
	"strings"
)

// DownloadableFile describes a remote file offered by a catalog or share.
type DownloadableFile struct {
	Name   string `json:"name" validate:"required"`
	Size   int64  `json:"size" validate:"gte=0"`
	URL    string `json:"url" validate:"required,source_url"`
	Format string `json:"format,omitempty"`
}

// Extension returns the lowercase extension of the file name without the dot.
func (f DownloadableFile) Extension() string {
	return Extension(f.Name)
}

// BaseName strips any folder components from the file name. Both slash
// styles count as separators.
func (f DownloadableFile) BaseName() string {
	return path.Base(strings.ReplaceAll(f.Name, "\\", "/"))
}

// CollectionItem is a browsable bundle of files with a declared system.
type CollectionItem struct {
	ID       string `json:"id" validate:"required"`
	Title    string `json:"title"`
	SystemID string `json:"system_id" validate:"omitempty,excludesall=/\\,ne=.,ne=.."`

	// Credentials authenticate smb:// file URLs of this item.
	Credentials *Credentials `json:"credentials,omitempty"`
}

// Label is the human label shown next to jobs from this item.
func (c CollectionItem) Label() string {
	if c.Title != "" {
		return c.Title
	}
	return c.ID
}

// SearchResult is one page of catalog search results.
type SearchResult struct {
	Items      []CollectionItem `json:"items"`
	TotalCount int              `json:"total_count"`
	HasMore    bool             `json:"has_more"`
}

// Extension returns the lowercase extension of name without the dot.
func Extension(name string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
}
