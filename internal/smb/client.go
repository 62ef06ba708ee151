// Package smb is the remote share transport. Every operation dials, authenticates
// and mounts the share on its own and tears the session down before returning,
// so concurrent callers never share connection state.
package smb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/veranemoloko/romfetch/internal/domain"
	errpkg "github.com/veranemoloko/romfetch/internal/errors"
)

// MaxDepth bounds how deep List recurses below the listing root.
const MaxDepth = 10

const chunkSize = 32 * 1024

// ProgressFunc receives the bytes transferred so far and the total size.
type ProgressFunc func(done, total int64)

// shareFS is the part of a mounted share the transport works with.
type shareFS interface {
	ReadDir(dir string) ([]fs.FileInfo, error)
	Stat(name string) (fs.FileInfo, error)
	Open(name string) (io.ReadCloser, error)
	Create(name string) (io.WriteCloser, error)
	MkdirAll(dir string) error
	Rename(oldpath, newpath string) error
	Remove(name string) error
}

// mountFunc opens an authenticated share. The returned release func closes
// the share, the session and the underlying connection.
type mountFunc func(ctx context.Context, server, share string, creds *domain.Credentials) (shareFS, func(), error)

// Client performs one-shot operations against SMB shares.
type Client struct {
	mount  mountFunc
	logger *slog.Logger
}

// NewClient creates a Client that dials shares over TCP with the given timeout.
func NewClient(dialTimeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		mount:  dialShare(dialTimeout),
		logger: logger,
	}
}

func (c *Client) withShare(ctx context.Context, op, server, share, p string, creds *domain.Credentials, fn func(shareFS) error) error {
	fsys, release, err := c.mount(ctx, server, share, creds)
	if err != nil {
		c.logger.Error("smb connect failed", "op", op, "server", server, "share", share, "error", err)
		return &errpkg.TransportError{Op: op, Server: server, Share: share, Path: p, Err: err}
	}
	defer release()

	if err := fn(fsys); err != nil {
		c.logger.Error("smb operation failed", "op", op, "server", server, "share", share, "path", p, "error", err)
		return &errpkg.TransportError{Op: op, Server: server, Share: share, Path: p, Err: err}
	}
	return nil
}

// List returns every regular file below subPath, recursing at most MaxDepth
// levels. Subdirectories that cannot be read are skipped; only a failure to
// read the listing root is reported.
func (c *Client) List(ctx context.Context, server, share, subPath string, creds *domain.Credentials) ([]domain.RemoteFile, error) {
	root := ToSharePath(subPath)
	var files []domain.RemoteFile

	err := c.withShare(ctx, "list", server, share, root, creds, func(fsys shareFS) error {
		entries, err := fsys.ReadDir(root)
		if err != nil {
			return err
		}
		c.scan(ctx, fsys, root, "", entries, 0, &files)
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("smb listing finished", "server", server, "share", share, "path", root, "files", len(files))
	return files, nil
}

func (c *Client) scan(ctx context.Context, fsys shareFS, dir, rel string, entries []fs.FileInfo, depth int, out *[]domain.RemoteFile) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}

		full := joinSharePath(dir, name)
		relPath := name
		if rel != "" {
			relPath = rel + "/" + name
		}

		if entry.IsDir() {
			if depth+1 > MaxDepth {
				continue
			}
			children, err := fsys.ReadDir(full)
			if err != nil {
				c.logger.Warn("skipping unreadable directory", "path", full, "error", err)
				continue
			}
			c.scan(ctx, fsys, full, relPath, children, depth+1, out)
			continue
		}

		*out = append(*out, domain.RemoteFile{
			Name:         name,
			Path:         full,
			RelativePath: relPath,
			Size:         entry.Size(),
			Extension:    domain.Extension(name),
		})
	}
}

// Download streams remotePath into w, reporting progress after every chunk.
func (c *Client) Download(ctx context.Context, server, share, remotePath string, creds *domain.Credentials, w io.Writer, progress ProgressFunc) error {
	p := ToSharePath(remotePath)

	return c.withShare(ctx, "download", server, share, p, creds, func(fsys shareFS) error {
		info, err := fsys.Stat(p)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", p)
		}

		src, err := fsys.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()

		_, err = copyChunks(ctx, w, src, info.Size(), progress)
		return err
	})
}

// Upload writes r to remotePath, creating parent directories and replacing
// any existing file. A partially written file is removed on failure.
func (c *Client) Upload(ctx context.Context, server, share, remotePath string, r io.Reader, creds *domain.Credentials) error {
	p := ToSharePath(remotePath)
	if p == "" {
		return &errpkg.TransportError{Op: "upload", Server: server, Share: share, Err: errors.New("empty remote path")}
	}

	return c.withShare(ctx, "upload", server, share, p, creds, func(fsys shareFS) error {
		if parent := parentSharePath(p); parent != "" {
			if err := fsys.MkdirAll(parent); err != nil {
				return fmt.Errorf("create parent %s: %w", parent, err)
			}
		}

		dst, err := fsys.Create(p)
		if err != nil {
			return err
		}

		if _, err := copyChunks(ctx, dst, r, -1, nil); err != nil {
			dst.Close()
			_ = fsys.Remove(p)
			return err
		}
		if err := dst.Close(); err != nil {
			_ = fsys.Remove(p)
			return err
		}
		return nil
	})
}

// Move renames sourcePath to destPath on the same share, replacing destPath.
func (c *Client) Move(ctx context.Context, server, share, sourcePath, destPath string, creds *domain.Credentials) error {
	src, dst := ToSharePath(sourcePath), ToSharePath(destPath)

	return c.withShare(ctx, "move", server, share, src, creds, func(fsys shareFS) error {
		if parent := parentSharePath(dst); parent != "" {
			if err := fsys.MkdirAll(parent); err != nil {
				return fmt.Errorf("create parent %s: %w", parent, err)
			}
		}
		if _, err := fsys.Stat(dst); err == nil {
			if err := fsys.Remove(dst); err != nil {
				return fmt.Errorf("replace %s: %w", dst, err)
			}
		}
		return fsys.Rename(src, dst)
	})
}

// Delete removes a single file.
func (c *Client) Delete(ctx context.Context, server, share, remotePath string, creds *domain.Credentials) error {
	p := ToSharePath(remotePath)
	return c.withShare(ctx, "delete", server, share, p, creds, func(fsys shareFS) error {
		return fsys.Remove(p)
	})
}

// TestConnection reports whether the share can be mounted and its root listed.
func (c *Client) TestConnection(ctx context.Context, server, share string, creds *domain.Credentials) (bool, error) {
	err := c.withShare(ctx, "test", server, share, "", creds, func(fsys shareFS) error {
		_, err := fsys.ReadDir("")
		return err
	})
	return err == nil, err
}

func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress ProgressFunc) (int64, error) {
	buf := make([]byte, chunkSize)
	var done int64

	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			if nw > 0 {
				done += int64(nw)
			}
			if werr != nil {
				return done, werr
			}
			if nw != nr {
				return done, io.ErrShortWrite
			}
			if progress != nil {
				progress(done, total)
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return done, nil
			}
			return done, rerr
		}
	}
}

// ToSharePath converts a caller supplied forward-slash path into the
// backslash form used on the wire. Leading and trailing separators are dropped.
func ToSharePath(p string) string {
	p = strings.Trim(strings.ReplaceAll(p, `\`, "/"), "/")
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return strings.ReplaceAll(p, "/", `\`)
}

func joinSharePath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + `\` + name
}

func parentSharePath(p string) string {
	i := strings.LastIndex(p, `\`)
	if i < 0 {
		return ""
	}
	return p[:i]
}
