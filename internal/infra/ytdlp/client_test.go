package ytdlp

import (
	"errors"
	"testing"
)

const infoDump = `{
	"id": "dQw4w9WgXcQ",
	"title": "Test Video",
	"description": "desc",
	"thumbnail": "https://i.ytimg.com/vi/dQw4w9WgXcQ/default.jpg",
	"uploader_id": "@channel",
	"uploader": "Some Channel",
	"duration": 212.5,
	"is_live": false,
	"live_status": "not_live",
	"availability": "public",
	"formats": [
		{"url": "https://cdn/worst.webm", "ext": "webm", "protocol": "https"},
		{"url": "https://cdn/low.mp4", "ext": "mp4", "protocol": "https"},
		{"url": "https://cdn/hls.mp4", "ext": "mp4", "protocol": "m3u8_native"},
		{"url": "https://cdn/best.mp4", "ext": "mp4", "protocol": "https"},
		{"url": "https://cdn/dash.webm", "ext": "webm", "protocol": "http_dash_segments"}
	]
}`

func TestParseInfo(t *testing.T) {
	info, err := ParseInfo([]byte(infoDump))
	if err != nil {
		t.Fatalf("ParseInfo failed: %v", err)
	}

	if info.ID != "dQw4w9WgXcQ" || info.Title != "Test Video" {
		t.Errorf("identity fields wrong: %+v", info)
	}
	if info.UploaderName != "Some Channel" {
		t.Errorf("uploader = %s, want Some Channel", info.UploaderName)
	}
	if info.Duration != 212 {
		t.Errorf("duration = %d, want 212", info.Duration)
	}

	// Last https+mp4 format wins; HLS and DASH entries are skipped.
	if info.FormatURL != "https://cdn/best.mp4" {
		t.Errorf("format url = %s, want https://cdn/best.mp4", info.FormatURL)
	}
	if info.Ext != "mp4" || info.MimeType != "video/mp4" {
		t.Errorf("format fields wrong: ext=%s mime=%s", info.Ext, info.MimeType)
	}
}

func TestParseInfoNoPlayableFormat(t *testing.T) {
	info, err := ParseInfo([]byte(`{"id": "x", "title": "t", "formats": [
		{"url": "https://cdn/a.m3u8", "ext": "mp4", "protocol": "m3u8_native"}
	]}`))
	if err != nil {
		t.Fatalf("ParseInfo failed: %v", err)
	}
	if info.FormatURL != "" || info.Ext != "" {
		t.Errorf("expected no format selected, got url=%s ext=%s", info.FormatURL, info.Ext)
	}
}

func TestParseInfoScheduledRelease(t *testing.T) {
	info, err := ParseInfo([]byte(`{
		"id": "up1", "title": "Premiere",
		"release_timestamp": 1764547200,
		"live_status": "is_upcoming"
	}`))
	if err != nil {
		t.Fatalf("ParseInfo failed: %v", err)
	}
	if info.ReleaseTimestamp != 1764547200 {
		t.Errorf("release timestamp = %d", info.ReleaseTimestamp)
	}
	if info.LiveStatus != "is_upcoming" {
		t.Errorf("live status = %s", info.LiveStatus)
	}
}

func TestParseInfoEmpty(t *testing.T) {
	if _, err := ParseInfo([]byte("  \n")); err == nil {
		t.Fatal("expected error for empty dump")
	}
}

func TestExtractErrorMessage(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   string
	}{
		{
			name:   "yt-dlp error line",
			stderr: "WARNING: unable to cache\nERROR: [youtube] dQw4: Video unavailable",
			want:   "[youtube] dQw4: Video unavailable",
		},
		{
			name:   "last error line wins",
			stderr: "ERROR: first try\nretrying...\nERROR: Sign in to confirm you're not a bot",
			want:   "Sign in to confirm you're not a bot",
		},
		{
			name:   "no error prefix falls back to stderr",
			stderr: "ssl: connection reset by peer",
			want:   "ssl: connection reset by peer",
		},
		{
			name:   "empty stderr falls back to exec error",
			stderr: "",
			want:   "exit status 1",
		},
	}

	runErr := errors.New("exit status 1")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractErrorMessage([]byte(tt.stderr), runErr); got != tt.want {
				t.Errorf("extractErrorMessage = %q, want %q", got, tt.want)
			}
		})
	}
}
