// Package classifier fingerprints a downloaded file and decides which
// system it belongs to.
package classifier

import (
	"archive/zip"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"

	"github.com/bodgit/sevenzip"

	"github.com/veranemoloko/romfetch/internal/domain"
	"github.com/veranemoloko/romfetch/internal/metadata"
)

const hashChunkSize = 64 * 1024

type Classifier struct {
	lookup metadata.Lookup
	logger *slog.Logger
}

func New(lookup metadata.Lookup, logger *slog.Logger) *Classifier {
	return &Classifier{lookup: lookup, logger: logger}
}

// Classify fingerprints the file at localPath and asks the metadata lookup
// for its system. originPath is where the file came from (share path or URL
// path) and is only used for folder heuristics. When nothing is detected the
// declared system is used. Classify never fails; problems only reduce what
// it can detect.
func (c *Classifier) Classify(ctx context.Context, localPath, fileName, originPath, declaredSystem string) domain.ClassificationResult {
	fp := c.fingerprint(ctx, localPath, fileName)

	result := domain.ClassificationResult{
		CRC:          fp.crc,
		InternalName: fp.internalName,
		SystemID:     declaredSystem,
	}

	if c.lookup == nil {
		return result
	}

	meta, err := c.lookup.Lookup(ctx, domain.RomFile{
		Name:         fileName,
		Path:         originPath,
		Size:         fp.size,
		CRC:          fp.crc,
		InternalName: fp.internalName,
	})
	if err != nil {
		c.logger.Warn("metadata lookup failed, using declared system",
			"file", fileName, "declared_system", declaredSystem, "error", err)
		return result
	}
	if meta == nil || meta.SystemID == "" {
		c.logger.Debug("system not detected", "file", fileName, "crc", fp.crc)
		return result
	}

	result.SystemID = meta.SystemID
	result.Detected = true
	result.Metadata = meta
	return result
}

type fingerprint struct {
	crc          string
	internalName string
	size         int64
}

func (c *Classifier) fingerprint(ctx context.Context, localPath, fileName string) fingerprint {
	var (
		fp  fingerprint
		err error
	)
	switch domain.Extension(fileName) {
	case "zip":
		fp, err = zipEntry(localPath)
	case "7z":
		fp, err = sevenZipEntry(localPath)
	default:
		return c.wholeFile(ctx, localPath)
	}
	if err != nil {
		c.logger.Warn("archive unreadable, hashing whole file", "file", fileName, "error", err)
		return c.wholeFile(ctx, localPath)
	}
	if fp.crc == "" {
		return c.wholeFile(ctx, localPath)
	}
	return fp
}

func (c *Classifier) wholeFile(ctx context.Context, localPath string) fingerprint {
	sum, size, err := FileCRC32(ctx, localPath)
	if err != nil {
		c.logger.Warn("failed to hash file", "path", localPath, "error", err)
		return fingerprint{}
	}
	return fingerprint{crc: sum, size: size}
}

// zipEntry reports the first regular entry of a zip archive.
func zipEntry(path string) (fingerprint, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fingerprint{}, err
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		return fingerprint{
			crc:          formatCRC(f.CRC32),
			internalName: f.Name,
			size:         int64(f.UncompressedSize64),
		}, nil
	}
	return fingerprint{}, nil
}

func sevenZipEntry(path string) (fingerprint, error) {
	r, err := sevenzip.OpenReader(path)
	if err != nil {
		return fingerprint{}, err
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		return fingerprint{
			crc:          formatCRC(f.CRC32),
			internalName: f.Name,
			size:         int64(f.UncompressedSize),
		}, nil
	}
	return fingerprint{}, nil
}

// FileCRC32 streams the file through CRC-32 (IEEE) and returns it as eight
// upper-case hex digits together with the byte count.
func FileCRC32(ctx context.Context, path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := crc32.NewIEEE()
	buf := make([]byte, hashChunkSize)
	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return "", n, err
		}
		read, rerr := f.Read(buf)
		if read > 0 {
			h.Write(buf[:read])
			n += int64(read)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", n, rerr
		}
	}
	return formatCRC(h.Sum32()), n, nil
}

func formatCRC(v uint32) string {
	return fmt.Sprintf("%08X", v)
}
