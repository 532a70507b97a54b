package bot

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/flowsend/flowsend/internal/models"
)

const (
	csvDownloadTimeout = 30 * time.Second
	maxCSVSize         = 1 << 20 // 1 MiB is plenty for a tip list
)

// ParseTipEntries reads tip entries from CSV with a header row of
// userId, amount and an optional note column. Amounts must be integers:
// a malformed row is an error naming the line, it never turns into a
// poisoned sum.
func ParseTipEntries(r io.Reader) ([]models.TipEntry, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New("csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("can't read csv header: %w", err)
	}

	userIdx, amountIdx, noteIdx := -1, -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "userid":
			userIdx = i
		case "amount":
			amountIdx = i
		case "note":
			noteIdx = i
		}
	}
	if userIdx < 0 || amountIdx < 0 {
		return nil, errors.New("csv must have userId and amount columns")
	}

	var entries []models.TipEntry
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("can't read csv line %d: %w", line, err)
		}

		userID := strings.TrimSpace(record[userIdx])
		if userID == "" {
			return nil, fmt.Errorf("csv line %d: userId is empty", line)
		}

		amount, err := strconv.ParseInt(strings.TrimSpace(record[amountIdx]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: amount %q is not an integer", line, record[amountIdx])
		}

		var note string
		if noteIdx >= 0 && noteIdx < len(record) {
			note = strings.TrimSpace(record[noteIdx])
		}

		entries = append(entries, models.TipEntry{UserID: userID, Amount: amount, Note: note})
	}

	if len(entries) == 0 {
		return nil, errors.New("csv has no tip rows")
	}

	return entries, nil
}

// downloadAttachment fetches the uploaded CSV from the chat platform CDN.
func downloadAttachment(ctx context.Context, client *http.Client, url string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, csvDownloadTimeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("can't create download request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("can't download attachment: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close() // nolint:errcheck
		cancel()
		return nil, fmt.Errorf("attachment download failed with status %d", resp.StatusCode)
	}

	return &cancelReadCloser{ReadCloser: http.MaxBytesReader(nil, resp.Body, maxCSVSize), cancel: cancel}, nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
