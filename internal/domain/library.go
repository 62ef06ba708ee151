package domain

import (
	"fmt"
	"net/url"
	"strings"

	errpkg "github.com/veranemoloko/romfetch/internal/errors"
)

// Backend names the storage tier that handled a placement.
type Backend string

const (
	BackendSMB   Backend = "SMB"
	BackendSAF   Backend = "SAF"
	BackendLocal Backend = "Local"
)

// Credentials authenticate against a remote share. Empty username means guest.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Domain   string `json:"domain,omitempty"`
}

// LibraryDestination is the remote share that receives every placement.
type LibraryDestination struct {
	Server      string       `json:"server" validate:"required,hostname_port|hostname|ip"`
	Share       string       `json:"share" validate:"required,excludesall=/\\"`
	SubPath     string       `json:"sub_path,omitempty"`
	Credentials *Credentials `json:"credentials,omitempty"`
}

// URL renders the destination as smb://server/share/subpath.
func (d LibraryDestination) URL() string {
	u := "smb://" + d.Server + "/" + d.Share
	if sub := strings.Trim(d.SubPath, "/"); sub != "" {
		u += "/" + sub
	}
	return u
}

// ParseShareURL parses smb://server/share[/sub/path] into a destination.
func ParseShareURL(raw string) (LibraryDestination, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return LibraryDestination{}, fmt.Errorf("%w: %v", errpkg.ErrInvalidDestination, err)
	}
	if u.Scheme != "smb" || u.Host == "" {
		return LibraryDestination{}, fmt.Errorf("%w: %q is not an smb:// url", errpkg.ErrInvalidDestination, raw)
	}

	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if parts[0] == "" {
		return LibraryDestination{}, fmt.Errorf("%w: missing share name in %q", errpkg.ErrInvalidDestination, raw)
	}

	dest := LibraryDestination{Server: u.Host, Share: parts[0]}
	if len(parts) == 2 {
		dest.SubPath = strings.Trim(parts[1], "/")
	}
	if u.User != nil {
		pw, _ := u.User.Password()
		dest.Credentials = &Credentials{Username: u.User.Username(), Password: pw}
	}
	return dest, nil
}

// RemoteFile is one file found while listing a share.
type RemoteFile struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	RelativePath string `json:"relative_path"`
	Size         int64  `json:"size"`
	Extension    string `json:"extension"`
}

// Placement records where a placed file ended up.
type Placement struct {
	Location string  `json:"location"`
	Backend  Backend `json:"backend"`
}

// StorageCheck is the answer to "do these files fit in the library".
// AvailableBytes is -1 when the active backend cannot report free space.
type StorageCheck struct {
	Sufficient     bool    `json:"sufficient"`
	RequiredBytes  int64   `json:"required_bytes"`
	AvailableBytes int64   `json:"available_bytes"`
	ShortageBytes  int64   `json:"shortage_bytes"`
	Required       string  `json:"required"`
	Available      string  `json:"available"`
	Shortage       string  `json:"shortage,omitempty"`
	Backend        Backend `json:"backend"`
}
