package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"

	"github.com/kdduha/eyeris/internal/workerpool"
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".bmp": true, ".tiff": true}

func main() {
	log := logrus.New()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.WithError(err).Fatal("config error")
	}

	files, err := listImages(cfg.DataDir)
	if err != nil {
		log.WithError(err).Fatal("read data dir")
	}
	if len(files) == 0 {
		log.WithField("dir", cfg.DataDir).Fatal("no images found")
	}

	pool := workerpool.New(cfg.Concurrency)
	pool.Start()
	defer pool.Close()

	client := &http.Client{Timeout: cfg.Timeout}
	ctx := context.Background()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []BenchResult
	)
	for _, format := range cfg.Formats {
		for _, file := range files {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := workerpool.Do(ctx, pool, func() (BenchResult, error) {
					return benchmarkImage(ctx, client, cfg, file, format), nil
				})
				if err != nil {
					res = BenchResult{File: filepath.Base(file), Format: format, Err: err}
				}

				entry := log.WithFields(logrus.Fields{"file": res.File, "format": res.Format})
				if res.Err != nil {
					entry.WithError(res.Err).Warn("failed")
				} else {
					entry.WithField("duration", res.Duration).Info("ok")
				}

				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}()
		}
	}
	wg.Wait()

	printMarkdown(os.Stdout, results)
}

func listImages(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && imageExts[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

func benchmarkImage(ctx context.Context, client *http.Client, cfg Config, path, format string) BenchResult {
	res := BenchResult{File: filepath.Base(path), Format: format}

	raw, err := os.ReadFile(path)
	if err != nil {
		res.Err = err
		return res
	}
	res.Size = int64(len(raw))

	start := time.Now()
	status, body, err := send(ctx, client, cfg, filepath.Base(path), raw, format)
	res.Duration = time.Since(start)
	res.Status = status
	if err != nil {
		res.Err = err
		return res
	}

	if !body.Success || body.Data == nil {
		res.Err = fmt.Errorf("status %d: %s", status, body.Message)
		return res
	}
	res.Tokens = body.Data.TokenUsage.TotalTokens
	return res
}

func send(ctx context.Context, client *http.Client, cfg Config, name string, raw []byte, format string) (int, APIResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", name)
	if err != nil {
		return 0, APIResponse{}, err
	}
	if _, err := fw.Write(raw); err != nil {
		return 0, APIResponse{}, err
	}
	if err := mw.Close(); err != nil {
		return 0, APIResponse{}, err
	}

	q := url.Values{}
	q.Set("format", format)
	if cfg.Provider != "" {
		q.Set("provider", cfg.Provider)
	}
	if cfg.Model != "" {
		q.Set("model", cfg.Model)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint+"?"+q.Encode(), &buf)
	if err != nil {
		return 0, APIResponse{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return 0, APIResponse{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, APIResponse{}, err
	}

	var body APIResponse
	if err := sonic.Unmarshal(data, &body); err != nil {
		return resp.StatusCode, APIResponse{}, fmt.Errorf("bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return resp.StatusCode, body, nil
}

func aggregate(results []BenchResult) map[string]Agg {
	m := map[string]Agg{}
	for _, r := range results {
		a := m[r.Format]
		if r.Err != nil {
			a.Failed++
			m[r.Format] = a
			continue
		}
		a.Count++
		a.TotalBytes += r.Size
		a.Total += r.Duration
		a.Tokens += r.Tokens
		m[r.Format] = a
	}
	return m
}

func printMarkdown(w io.Writer, results []BenchResult) {
	fmt.Fprint(w, "\n## Benchmark Results\n\n")
	fmt.Fprintln(w, "| Format | Requests | Failed | Avg Time | Total Time | Avg File Size | Tokens |")
	fmt.Fprintln(w, "|--------|----------|--------|----------|------------|---------------|--------|")

	agg := aggregate(results)
	formats := make([]string, 0, len(agg))
	for format := range agg {
		formats = append(formats, format)
	}
	sort.Strings(formats)

	var all Agg
	for _, format := range formats {
		a := agg[format]
		fmt.Fprintf(w, "| %s | %d | %d | %v | %v | %s | %d |\n",
			format,
			a.Count,
			a.Failed,
			avgDuration(a).Round(time.Millisecond),
			a.Total.Round(time.Millisecond),
			humanBytes(avgSize(a)),
			a.Tokens,
		)
		all.Count += a.Count
		all.Failed += a.Failed
		all.Total += a.Total
		all.TotalBytes += a.TotalBytes
		all.Tokens += a.Tokens
	}

	if all.Count+all.Failed > 0 {
		fmt.Fprintf(w, "| **ALL** | %d | %d | %v | %v | %s | %d |\n",
			all.Count,
			all.Failed,
			avgDuration(all).Round(time.Millisecond),
			all.Total.Round(time.Millisecond),
			humanBytes(avgSize(all)),
			all.Tokens,
		)
	}
}

func avgDuration(a Agg) time.Duration {
	if a.Count == 0 {
		return 0
	}
	return a.Total / time.Duration(a.Count)
}

func avgSize(a Agg) int64 {
	if a.Count == 0 {
		return 0
	}
	return a.TotalBytes / int64(a.Count)
}

func humanBytes(size int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case size >= GB:
		return fmt.Sprintf("%.2f GB", float64(size)/GB)
	case size >= MB:
		return fmt.Sprintf("%.2f MB", float64(size)/MB)
	case size >= KB:
		return fmt.Sprintf("%.2f KB", float64(size)/KB)
	default:
		return fmt.Sprintf("%d B", size)
	}
}
