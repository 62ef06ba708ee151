package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/veranemoloko/romfetch/internal/domain"
	errpkg "github.com/veranemoloko/romfetch/internal/errors"
	"github.com/veranemoloko/romfetch/internal/smb"
	"github.com/veranemoloko/romfetch/internal/storage"
)

const chunkSize = 8 * 1024

// ShareDownloader streams a file from a remote share.
type ShareDownloader interface {
	Download(ctx context.Context, server, share, remotePath string, creds *domain.Credentials, w io.Writer, progress smb.ProgressFunc) error
}

// Result describes a finished transfer into a temp file.
type Result struct {
	TempPath   string
	BytesRead  int64
	TotalBytes int64
}

// DownloadWorker streams catalog files from HTTP(S) or SMB sources into temp
// files under the cache directory.
type DownloadWorker struct {
	tempStorage *storage.FileStorage
	httpClient  *retryablehttp.Client
	share       ShareDownloader
	logger      *slog.Logger
}

// NewDownloadWorker creates a worker writing temp files to tempStorage.
// HTTP requests are retried up to retryMax times.
func NewDownloadWorker(tempStorage *storage.FileStorage, share ShareDownloader, retryMax int, timeout time.Duration, logger *slog.Logger) *DownloadWorker {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 10 * time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = logger

	return &DownloadWorker{
		tempStorage: tempStorage,
		httpClient:  client,
		share:       share,
		logger:      logger,
	}
}

// Fetch downloads file into a fresh temp file. progress is called after
// every chunk with the bytes so far and the expected total (0 if unknown).
// On any failure, including cancellation, the temp file is removed.
func (w *DownloadWorker) Fetch(ctx context.Context, item domain.CollectionItem, file domain.DownloadableFile, progress smb.ProgressFunc) (Result, error) {
	u, err := url.Parse(file.URL)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", errpkg.ErrUnsupportedSource, err)
	}
	if progress == nil {
		progress = func(int64, int64) {}
	}

	tmp, err := w.tempStorage.CreateTemp(file.Name)
	if err != nil {
		return Result{}, fmt.Errorf("create temp file: %w", err)
	}
	result := Result{TempPath: tmp.Name(), TotalBytes: file.Size}

	switch u.Scheme {
	case "http", "https":
		err = w.fetchHTTP(ctx, file, tmp, &result, progress)
	case "smb":
		err = w.fetchShare(ctx, item, file, tmp, &result, progress)
	default:
		err = fmt.Errorf("%w: scheme %q", errpkg.ErrUnsupportedSource, u.Scheme)
	}

	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close temp file: %w", cerr)
	}
	if err != nil {
		os.Remove(result.TempPath)
		if ctx.Err() == nil {
			w.logger.Error("download failed",
				"url", file.URL,
				"error", err,
			)
		}
		return Result{}, err
	}
	return result, nil
}

func (w *DownloadWorker) fetchHTTP(ctx context.Context, file domain.DownloadableFile, dst io.Writer, result *Result, progress smb.ProgressFunc) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, file.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bad status: %s", resp.Status)
	}
	if resp.ContentLength > 0 {
		result.TotalBytes = resp.ContentLength
	}

	n, err := copyWithContext(ctx, dst, resp.Body, func(done int64) {
		progress(done, result.TotalBytes)
	})
	result.BytesRead = n
	if err != nil {
		return err
	}
	if result.TotalBytes <= 0 {
		result.TotalBytes = n
	}
	return nil
}

func (w *DownloadWorker) fetchShare(ctx context.Context, item domain.CollectionItem, file domain.DownloadableFile, dst io.Writer, result *Result, progress smb.ProgressFunc) error {
	if w.share == nil {
		return fmt.Errorf("%w: no share transport", errpkg.ErrUnsupportedSource)
	}
	loc, err := domain.ParseShareURL(file.URL)
	if err != nil {
		return err
	}
	creds := item.Credentials
	if creds == nil {
		creds = loc.Credentials
	}

	counter := &countingWriter{w: dst}
	err = w.share.Download(ctx, loc.Server, loc.Share, loc.SubPath, creds, counter, func(done, total int64) {
		if total > 0 {
			result.TotalBytes = total
		}
		progress(done, result.TotalBytes)
	})
	result.BytesRead = counter.n
	if err != nil {
		return err
	}
	if result.TotalBytes <= 0 {
		result.TotalBytes = counter.n
	}
	return nil
}

// copyWithContext copies src to dst in small chunks and stops at the first
// chunk boundary after ctx is done.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader, onChunk func(total int64)) (int64, error) {
	buf := make([]byte, chunkSize)
	var total int64

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
			nr, err := src.Read(buf)
			if nr > 0 {
				nw, err := dst.Write(buf[0:nr])
				if nw > 0 {
					total += int64(nw)
				}
				if err != nil {
					return total, err
				}
				if nr != nw {
					return total, io.ErrShortWrite
				}
				onChunk(total)
			}
			if err != nil {
				if err == io.EOF {
					return total, nil
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					return total, ctxErr
				}
				return total, err
			}
		}
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
