// Package importer replicates packages from another v3 feed into this
// server: it walks the source's search pages, downloads every version from
// the flat container and pushes each archive to the target publish
// endpoint.
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nugetd/nugetd/internal/utils"
)

const searchPageSize = 100

// Options configures a Run.
type Options struct {
	// SourceIndexURL is the service index (…/v3/index.json) of the feed to
	// copy from.
	SourceIndexURL string

	// TargetBaseURL is the root of the server to push to.
	TargetBaseURL string

	// Username and APIPassword authenticate the pushes via HTTP Basic.
	Username    string
	APIPassword string

	// Concurrency bounds the parallel package transfers.
	Concurrency int

	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// Summary is the outcome of one import run.
type Summary struct {
	Imported int
	Skipped  int
	Failed   int
}

type serviceIndex struct {
	Resources []struct {
		ID   string `json:"@id"`
		Type string `json:"@type"`
	} `json:"resources"`
}

type searchPage struct {
	TotalHits int `json:"totalHits"`
	Data      []struct {
		ID       string `json:"id"`
		Versions []struct {
			Version string `json:"version"`
		} `json:"versions"`
	} `json:"data"`
}

type versionList struct {
	Versions []string `json:"versions"`
}

// Importer copies packages between feeds.
type Importer struct {
	opts   Options
	client *http.Client
	logger *logrus.Entry

	mu      sync.Mutex
	summary Summary
}

// New creates an importer.
func New(opts Options) (*Importer, error) {
	if opts.SourceIndexURL == "" {
		return nil, fmt.Errorf("source index URL is required")
	}
	if opts.TargetBaseURL == "" {
		return nil, fmt.Errorf("target base URL is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Importer{
		opts:   opts,
		client: opts.HTTPClient,
		logger: logger.WithField("batch", uuid.NewString()[:8]),
	}, nil
}

// Run copies every package version the source advertises. Versions the
// target already stores are skipped without a transfer; individual
// failures are counted and logged but do not abort the run.
func (im *Importer) Run(ctx context.Context) (*Summary, error) {
	searchURL, contentBase, err := im.discover(ctx)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.opts.Concurrency)

	for skip := 0; ; skip += searchPageSize {
		page, err := im.searchPage(ctx, searchURL, skip)
		if err != nil {
			return nil, err
		}
		if len(page.Data) == 0 {
			break
		}
		for _, hit := range page.Data {
			id := strings.ToLower(hit.ID)
			versions := make([]string, 0, len(hit.Versions))
			for _, v := range hit.Versions {
				versions = append(versions, v.Version)
			}
			g.Go(func() error {
				im.importPackage(gctx, contentBase, id, versions)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	im.mu.Lock()
	summary := im.summary
	im.mu.Unlock()

	im.logger.WithFields(logrus.Fields{
		"imported": summary.Imported,
		"skipped":  summary.Skipped,
		"failed":   summary.Failed,
	}).Info("Import finished")
	return &summary, nil
}

// discover resolves the source's search and flat-container endpoints from
// its service index.
func (im *Importer) discover(ctx context.Context) (searchURL, contentBase string, err error) {
	var idx serviceIndex
	if err := im.getJSON(ctx, im.opts.SourceIndexURL, &idx); err != nil {
		return "", "", fmt.Errorf("read source service index: %w", err)
	}
	for _, r := range idx.Resources {
		switch {
		case strings.HasPrefix(r.Type, "SearchQueryService") && searchURL == "":
			searchURL = r.ID
		case strings.HasPrefix(r.Type, "PackageBaseAddress") && contentBase == "":
			contentBase = strings.TrimRight(r.ID, "/")
		}
	}
	if searchURL == "" || contentBase == "" {
		return "", "", fmt.Errorf("source service index advertises no search or package-content resource")
	}
	return searchURL, contentBase, nil
}

func (im *Importer) searchPage(ctx context.Context, searchURL string, skip int) (*searchPage, error) {
	sep := "?"
	if strings.Contains(searchURL, "?") {
		sep = "&"
	}
	url := fmt.Sprintf("%s%sskip=%d&take=%d", searchURL, sep, skip, searchPageSize)
	var page searchPage
	if err := im.getJSON(ctx, url, &page); err != nil {
		return nil, fmt.Errorf("search source feed: %w", err)
	}
	return &page, nil
}

// importPackage transfers every version of one package, skipping those the
// target already stores.
func (im *Importer) importPackage(ctx context.Context, contentBase, id string, versions []string) {
	existing := im.targetVersions(ctx, id)

	for _, version := range versions {
		if ctx.Err() != nil {
			return
		}
		log := im.logger.WithFields(logrus.Fields{
			"package": id,
			"version": version,
		})

		if utils.ContainsStringFold(existing, version) {
			im.count(func(s *Summary) { s.Skipped++ })
			log.Debug("Version already on target, skipped")
			continue
		}

		archive, err := im.download(ctx, contentBase, id, version)
		if err != nil {
			im.count(func(s *Summary) { s.Failed++ })
			log.WithError(err).Warn("Download failed")
			continue
		}

		switch status, err := im.push(ctx, archive); {
		case err != nil:
			im.count(func(s *Summary) { s.Failed++ })
			log.WithError(err).Warn("Push failed")
		case status == http.StatusConflict:
			im.count(func(s *Summary) { s.Skipped++ })
			log.Info("Target rejected duplicate, skipped")
		case status >= 300:
			im.count(func(s *Summary) { s.Failed++ })
			log.WithField("status", status).Warn("Push rejected")
		default:
			im.count(func(s *Summary) { s.Imported++ })
			log.Info("Version imported")
		}
	}
}

// targetVersions asks the target's flat container what it already has. Any
// failure (including not-found mode 404s) means no versions are skipped.
func (im *Importer) targetVersions(ctx context.Context, id string) []string {
	url := fmt.Sprintf("%s/v3/package-base/%s/index.json", strings.TrimRight(im.opts.TargetBaseURL, "/"), id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	im.authorize(req)
	resp, err := im.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	var list versionList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil
	}
	return list.Versions
}

func (im *Importer) download(ctx context.Context, contentBase, id, version string) ([]byte, error) {
	lv := strings.ToLower(version)
	url := fmt.Sprintf("%s/%s/%s/%s.%s.nupkg", contentBase, id, lv, id, lv)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := im.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (im *Importer) push(ctx context.Context, archive []byte) (int, error) {
	url := strings.TrimRight(im.opts.TargetBaseURL, "/") + "/api/publish"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(archive))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	im.authorize(req)
	resp, err := im.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (im *Importer) authorize(req *http.Request) {
	if im.opts.Username != "" {
		req.SetBasicAuth(im.opts.Username, im.opts.APIPassword)
	}
}

func (im *Importer) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := im.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (im *Importer) count(update func(*Summary)) {
	im.mu.Lock()
	update(&im.summary)
	im.mu.Unlock()
}
