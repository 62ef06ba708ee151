// Package catalog searches the Internet Archive for ROM packs and lists the
// downloadable files of a pack.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/veranemoloko/romfetch/internal/domain"
)

const (
	userAgent       = "romfetch/1.0"
	DefaultPageSize = 50
)

// SystemTerms are the title words searched for each system.
var SystemTerms = map[string]string{
	"nes":     "nes nintendo famicom",
	"snes":    "snes super nintendo sfc",
	"gba":     "gba gameboy advance",
	"gbc":     "gameboy gb gbc",
	"genesis": "genesis megadrive sega",
	"n64":     "n64 nintendo64",
	"psx":     "psx playstation ps1",
	"psp":     "psp playstation portable",
	"arcade":  "arcade mame",
}

var romExtensions = map[string]bool{
	"zip": true, "7z": true, "nes": true, "sfc": true, "smc": true, "gba": true,
	"gbc": true, "gb": true, "n64": true, "z64": true, "v64": true, "iso": true,
	"bin": true, "cue": true, "pbp": true, "cso": true, "chd": true,
}

type Client struct {
	baseURL string
	http    *retryablehttp.Client
	logger  *slog.Logger
}

func NewClient(baseURL string, retryMax int, timeout time.Duration, logger *slog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = logger

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    rc,
		logger:  logger,
	}
}

// Systems returns the system ids that can be searched, sorted.
func Systems() []string {
	out := make([]string, 0, len(SystemTerms))
	for id := range SystemTerms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// BuildQuery assembles the advanced-search query for a system and an
// optional title filter. It returns "" for unknown systems.
func BuildQuery(systemID, query string) string {
	terms, ok := SystemTerms[systemID]
	if !ok {
		return ""
	}
	words := strings.Fields(terms)
	for i, w := range words {
		words[i] = "title:" + w
	}

	parts := []string{
		"(" + strings.Join(words, " OR ") + ")",
		"(title:rom OR subject:rom)",
		"format:zip",
	}
	if q := strings.TrimSpace(query); q != "" {
		parts = append(parts, "title:*"+q+"*")
	}
	return strings.Join(parts, " AND ")
}

type searchResponse struct {
	Response struct {
		NumFound int `json:"numFound"`
		Docs     []struct {
			Identifier string `json:"identifier"`
			Title      string `json:"title"`
		} `json:"docs"`
	} `json:"response"`
}

// Search returns one page (1-based) of packs for systemID. Unknown systems
// yield an empty result.
func (c *Client) Search(ctx context.Context, systemID, query string, page, pageSize int) (domain.SearchResult, error) {
	q := BuildQuery(systemID, query)
	if q == "" {
		return domain.SearchResult{Items: []domain.CollectionItem{}}, nil
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	params := url.Values{}
	params.Set("q", q)
	params.Set("fl[]", "identifier,title")
	params.Set("sort[]", "downloads desc")
	params.Set("rows", strconv.Itoa(pageSize))
	params.Set("page", strconv.Itoa(page))
	params.Set("output", "json")

	var resp searchResponse
	if err := c.getJSON(ctx, c.baseURL+"/advancedsearch.php?"+params.Encode(), &resp); err != nil {
		return domain.SearchResult{}, fmt.Errorf("search %s: %w", systemID, err)
	}

	items := make([]domain.CollectionItem, 0, len(resp.Response.Docs))
	for _, doc := range resp.Response.Docs {
		if doc.Title == "" {
			continue
		}
		items = append(items, domain.CollectionItem{
			ID:       doc.Identifier,
			Title:    CleanTitle(doc.Title),
			SystemID: systemID,
		})
	}

	c.logger.Debug("catalog search", "system", systemID, "query", query, "found", resp.Response.NumFound)
	return domain.SearchResult{
		Items:      items,
		TotalCount: resp.Response.NumFound,
		HasMore:    page*pageSize < resp.Response.NumFound,
	}, nil
}

type metadataResponse struct {
	Files []struct {
		Name   string `json:"name"`
		Size   string `json:"size"`
		Format string `json:"format"`
	} `json:"files"`
}

// ListFiles returns the ROM files of a pack sorted by name.
func (c *Client) ListFiles(ctx context.Context, identifier string) ([]domain.DownloadableFile, error) {
	var resp metadataResponse
	if err := c.getJSON(ctx, c.baseURL+"/metadata/"+url.PathEscape(identifier), &resp); err != nil {
		return nil, fmt.Errorf("list files of %s: %w", identifier, err)
	}

	files := make([]domain.DownloadableFile, 0, len(resp.Files))
	for _, f := range resp.Files {
		ext := domain.Extension(f.Name)
		if !romExtensions[ext] || f.Size == "" {
			continue
		}
		size, _ := strconv.ParseInt(f.Size, 10, 64)
		format := f.Format
		if format == "" {
			format = ext
		}
		files = append(files, domain.DownloadableFile{
			Name:   f.Name,
			Size:   size,
			URL:    c.baseURL + "/download/" + url.PathEscape(identifier) + "/" + url.PathEscape(f.Name),
			Format: format,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var (
	titleTags  = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	titleNoise = regexp.MustCompile(`(?i)\b(rom|zip|snes|nes|gba|sfc|smc)\b`)
	titleSpace = regexp.MustCompile(`\s+`)
)

// CleanTitle strips tags and format noise from a pack title.
func CleanTitle(title string) string {
	t := titleTags.ReplaceAllString(title, "")
	t = titleNoise.ReplaceAllString(t, "")
	t = strings.TrimSpace(titleSpace.ReplaceAllString(t, " "))
	if r := []rune(t); len(r) > 50 {
		t = strings.TrimSpace(string(r[:50]))
	}
	if t == "" {
		return title
	}
	return t
}
