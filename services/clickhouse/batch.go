package clickhouse

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// RawBar is one JSONEachRow line for HTTP bulk ingestion. All values travel
// as strings so ClickHouse, not Go floats, does the numeric parsing.
type RawBar struct {
	Symbol     string `json:"symbol"`
	Interval   string `json:"interval"`
	OpenTimeMs string `json:"open_time_ms"`
	Open       string `json:"open"`
	High       string `json:"high"`
	Low        string `json:"low"`
	Close      string `json:"close"`
	Volume     string `json:"volume"`
	IngestedAt string `json:"ingested_at"`
	Version    string `json:"version"`
}

// BatchIngester buffers bars and flushes them over the ClickHouse HTTP
// interface as gzipped JSONEachRow inserts.
type BatchIngester struct {
	baseURL    string
	database   string
	table      string
	username   string
	password   string
	httpClient *http.Client
	buffer     []RawBar
	batchSize  int
}

// NewBatchIngester targets the given HTTP endpoint and table. Flushes happen
// automatically every batchSize rows and on Close.
func NewBatchIngester(baseURL, database, table, username, password string, batchSize int) *BatchIngester {
	return &BatchIngester{
		baseURL:   baseURL,
		database:  database,
		table:     table,
		username:  username,
		password:  password,
		batchSize: batchSize,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		buffer: make([]RawBar, 0, batchSize),
	}
}

// Add buffers one row, flushing when the batch is full.
func (c *BatchIngester) Add(ctx context.Context, bar RawBar) error {
	c.buffer = append(c.buffer, bar)
	if len(c.buffer) >= c.batchSize {
		return c.Flush(ctx)
	}
	return nil
}

// Flush posts the buffered rows as one gzipped insert.
func (c *BatchIngester) Flush(ctx context.Context) error {
	if len(c.buffer) == 0 {
		return nil
	}

	var buf bytes.Buffer
	gzWriter := gzip.NewWriter(&buf)
	for _, bar := range c.buffer {
		jsonData, err := json.Marshal(bar)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		if _, err := gzWriter.Write(jsonData); err != nil {
			return fmt.Errorf("gzip error: %w", err)
		}
		if _, err := gzWriter.Write([]byte("\n")); err != nil {
			return fmt.Errorf("gzip error: %w", err)
		}
	}
	if err := gzWriter.Close(); err != nil {
		return fmt.Errorf("gzip close: %w", err)
	}

	query := fmt.Sprintf("INSERT INTO %s.%s FORMAT JSONEachRow", c.database, c.table)
	settings := "input_format_null_as_default=1&date_time_input_format=best_effort"
	endpoint := fmt.Sprintf("%s/?query=%s&%s", c.baseURL, url.QueryEscape(query), settings)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Content-Encoding", "gzip")
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("X-ClickHouse-Settings", "max_insert_block_size=1000000,input_format_allow_errors_num=0,insert_deduplicate=1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("clickhouse error %d: %s", resp.StatusCode, string(body))
	}

	c.buffer = c.buffer[:0]
	return nil
}

// Close flushes whatever remains buffered.
func (c *BatchIngester) Close(ctx context.Context) error {
	return c.Flush(ctx)
}
