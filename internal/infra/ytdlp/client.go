package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mediafetch/fetchd/internal/core/domain"
	"github.com/mediafetch/fetchd/internal/download"
)

// Config holds yt-dlp provider configuration.
type Config struct {
	BinPath       string        `yaml:"bin_path"`
	CookiesPath   string        `yaml:"cookies_path"`
	StorageRoot   string        `yaml:"storage_root"`
	PublicBaseURL string        `yaml:"public_base_url"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Client runs yt-dlp as a subprocess to resolve metadata and download media.
// Implements download.MediaProvider.
type Client struct {
	cfg Config
	log *slog.Logger
}

// NewClient creates a yt-dlp client.
func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.BinPath == "" {
		cfg.BinPath = "yt-dlp"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{cfg: cfg, log: log}
}

// CheckDependencies verifies yt-dlp is reachable.
func (c *Client) CheckDependencies() error {
	if _, err := exec.LookPath(c.cfg.BinPath); err != nil {
		return fmt.Errorf("missing dependency: %s is not installed or not on PATH", c.cfg.BinPath)
	}
	return nil
}

// FetchInfo resolves video metadata with a -J dump. On failure the error
// carries yt-dlp's own message (that text drives classification), and any
// partial metadata yt-dlp printed is returned alongside it — a scheduled
// video's release timestamp arrives this way.
func (c *Client) FetchInfo(ctx context.Context, url string) (*domain.VideoInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	args := []string{"-J", "--no-warnings", "--no-download"}
	if c.cfg.CookiesPath != "" {
		args = append(args, "--cookies", c.cfg.CookiesPath)
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, c.cfg.BinPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		info, _ := ParseInfo(stdout.Bytes())
		return info, errors.New(extractErrorMessage(stderr.Bytes(), runErr))
	}

	info, err := ParseInfo(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to parse video info: %w", err)
	}
	return info, nil
}

// Download fetches the media into the storage root and returns the artifact.
func (c *Client) Download(ctx context.Context, sourceURL string, info *domain.VideoInfo) (*download.Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ext := "mp4"
	if info != nil && info.Ext != "" {
		ext = info.Ext
	}
	id := ""
	if info != nil {
		id = info.ID
	}
	if id == "" {
		id = fmt.Sprintf("dl-%d", time.Now().UnixNano())
	}
	filename := fmt.Sprintf("%s.%s", id, ext)
	dest := filepath.Join(c.cfg.StorageRoot, filename)

	args := []string{
		"-f", "bestvideo*+bestaudio/best",
		"-o", dest,
		"--no-progress",
		"--no-warnings",
	}
	if c.cfg.CookiesPath != "" {
		args = append(args, "--cookies", c.cfg.CookiesPath)
	}
	args = append(args, sourceURL)

	cmd := exec.CommandContext(ctx, c.cfg.BinPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, errors.New(extractErrorMessage(stderr.Bytes(), err))
	}

	stat, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("downloaded file missing: %w", err)
	}

	return &download.Artifact{
		SizeBytes:  stat.Size(),
		StorageURL: strings.TrimRight(c.cfg.PublicBaseURL, "/") + "/" + filename,
		Duration:   time.Since(start),
	}, nil
}

// rawInfo mirrors the subset of yt-dlp's -J output the service uses.
type rawInfo struct {
	ID               string      `json:"id"`
	Title            string      `json:"title"`
	Description      string      `json:"description"`
	Thumbnail        string      `json:"thumbnail"`
	UploaderID       string      `json:"uploader_id"`
	Uploader         string      `json:"uploader"`
	Duration         float64     `json:"duration"`
	ReleaseTimestamp int64       `json:"release_timestamp"`
	IsLive           bool        `json:"is_live"`
	LiveStatus       string      `json:"live_status"`
	Availability     string      `json:"availability"`
	Formats          []rawFormat `json:"formats"`
}

type rawFormat struct {
	URL      string `json:"url"`
	Ext      string `json:"ext"`
	Protocol string `json:"protocol"`
}

// ParseInfo decodes a -J dump into the domain metadata, selecting the best
// directly playable format: the formats list is ascending by quality, so the
// first https+mp4 entry from the end wins.
func ParseInfo(data []byte) (*domain.VideoInfo, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty info dump")
	}

	var raw rawInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal info: %w", err)
	}

	info := &domain.VideoInfo{
		ID:               raw.ID,
		Title:            raw.Title,
		Description:      raw.Description,
		Thumbnail:        raw.Thumbnail,
		UploaderID:       raw.UploaderID,
		UploaderName:     raw.Uploader,
		Duration:         int64(raw.Duration),
		ReleaseTimestamp: raw.ReleaseTimestamp,
		IsLive:           raw.IsLive,
		LiveStatus:       raw.LiveStatus,
		Availability:     raw.Availability,
	}

	for i := len(raw.Formats) - 1; i >= 0; i-- {
		f := raw.Formats[i]
		if f.Ext == "mp4" && f.Protocol == "https" {
			info.FormatURL = f.URL
			info.Ext = f.Ext
			info.MimeType = "video/mp4"
			break
		}
	}
	return info, nil
}

// extractErrorMessage pulls yt-dlp's own error line out of stderr, falling
// back to the raw exec error.
func extractErrorMessage(stderr []byte, runErr error) string {
	lines := strings.Split(strings.TrimSpace(string(stderr)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
	}
	if msg := strings.TrimSpace(string(stderr)); msg != "" {
		return msg
	}
	return runErr.Error()
}
