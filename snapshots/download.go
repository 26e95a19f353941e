// Package snapshots downloads and imports the per-epoch spectrum and
// universe binary archives published at epoch boundaries.
package snapshots

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	spectrumDownloadTimeout = 10 * time.Minute
	universeDownloadTimeout = 15 * time.Minute
)

// archiveURL builds the templated snapshot URL for an epoch
func archiveURL(baseURL string, epoch uint32) string {
	return fmt.Sprintf("%s/%d/ep%d-bob.zip", strings.TrimRight(baseURL, "/"), epoch, epoch)
}

// downloadArchive fetches the zip archive of an epoch and extracts the
// entry whose name starts with the given prefix (spectrum. or universe.)
func downloadArchive(ctx context.Context, client *http.Client, baseURL string, epoch uint32, entryPrefix string, timeout time.Duration) (data []byte, archiveSize int64, err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := archiveURL(baseURL, epoch)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build archive request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("archive %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read archive %s: %w", url, err)
	}

	entry, err := extractEntry(body, entryPrefix)
	if err != nil {
		return nil, 0, fmt.Errorf("archive %s: %w", url, err)
	}
	return entry, int64(len(body)), nil
}

// extractEntry locates and decompresses the expected archive entry
func extractEntry(archive []byte, entryPrefix string) ([]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}

	for _, file := range reader.File {
		if !strings.HasPrefix(file.Name, entryPrefix) {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open entry %s: %w", file.Name, err)
		}
		defer rc.Close()

		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to extract entry %s: %w", file.Name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("no entry with prefix %q", entryPrefix)
}
