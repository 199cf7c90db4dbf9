package shared

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Fetcher is the media extraction collaborator used by the service and the workers.
type Fetcher interface {
	FetchMetadata(ctx context.Context, url string) (Metadata, error)
	// FetchMedia downloads url in the requested format and returns the local file path.
	FetchMedia(ctx context.Context, url, format string, kind MediaKind) (string, error)
	// ListFormats returns the supported formats for kind, best first.
	ListFormats(kind MediaKind) []FormatDescriptor
}

var (
	videoFormats = []FormatDescriptor{
		{ID: "best", Label: "Best available"},
		{ID: "1080p", Label: "1080p (Full HD)"},
		{ID: "720p", Label: "720p (HD)"},
		{ID: "480p", Label: "480p"},
		{ID: "360p", Label: "360p"},
	}
	audioFormats = []FormatDescriptor{
		{ID: "best", Label: "Best available"},
		{ID: "320k", Label: "MP3 320 kbps"},
		{ID: "192k", Label: "MP3 192 kbps"},
		{ID: "128k", Label: "MP3 128 kbps"},
	}
)

// YtDlpFetcher uses the local yt-dlp binary (and ffmpeg for merging and
// audio extraction) to fetch metadata and media.
type YtDlpFetcher struct {
	binaryPath string
	ffmpegPath string
	outputDir  string
}

// NewYtDlpFetcher creates a new fetcher. Empty binary paths are resolved from PATH.
func NewYtDlpFetcher(binaryPath, ffmpegPath, outputDir string) *YtDlpFetcher {
	if binaryPath == "" {
		binaryPath = "yt-dlp"
	}
	return &YtDlpFetcher{
		binaryPath: binaryPath,
		ffmpegPath: resolveFFmpeg(ffmpegPath),
		outputDir:  outputDir,
	}
}

// resolveFFmpeg turns a bare command name into a full path. yt-dlp treats
// --ffmpeg-location as a filesystem path, so a name that is not on PATH is
// dropped and yt-dlp falls back to its own lookup.
func resolveFFmpeg(path string) string {
	if path == "" || strings.ContainsRune(path, os.PathSeparator) || strings.ContainsRune(path, '/') {
		return path
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return ""
	}
	return resolved
}

func (f *YtDlpFetcher) ListFormats(kind MediaKind) []FormatDescriptor {
	var src []FormatDescriptor
	switch kind {
	case MediaKindVideo:
		src = videoFormats
	case MediaKindAudio:
		src = audioFormats
	default:
		return nil
	}
	out := make([]FormatDescriptor, len(src))
	copy(out, src)
	return out
}

// FetchMetadata dumps the single-video JSON without downloading anything.
func (f *YtDlpFetcher) FetchMetadata(ctx context.Context, url string) (Metadata, error) {
	out, err := f.run(ctx, "--dump-single-json", "--skip-download", "--no-playlist", "--no-warnings", url)
	if err != nil {
		return Metadata{}, err
	}

	// Temporary struct to unmarshal yt-dlp's output
	var data struct {
		Title     string  `json:"title"`
		Uploader  string  `json:"uploader"`
		Duration  float64 `json:"duration"`
		Thumbnail string  `json:"thumbnail"`
		Ext       string  `json:"ext"`
	}
	if err := json.Unmarshal(out, &data); err != nil {
		return Metadata{}, fmt.Errorf("JSON parse error: %w", err)
	}

	return Metadata{
		Title:     data.Title,
		Uploader:  data.Uploader,
		Duration:  data.Duration,
		Thumbnail: data.Thumbnail,
		Ext:       data.Ext,
	}, nil
}

func (f *YtDlpFetcher) FetchMedia(ctx context.Context, url, format string, kind MediaKind) (string, error) {
	if err := os.MkdirAll(f.outputDir, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	args, err := f.downloadArgs(format, kind)
	if err != nil {
		return "", err
	}
	args = append(args,
		"--no-playlist", "--no-warnings", "--no-progress",
		"-o", filepath.Join(f.outputDir, "%(title).80B [%(id)s].%(ext)s"),
		"--print", "after_move:filepath",
		url,
	)

	out, err := f.run(ctx, args...)
	if err != nil {
		return "", err
	}

	// yt-dlp prints the final path as the last line
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	path := strings.TrimSpace(lines[len(lines)-1])
	if path == "" {
		return "", fmt.Errorf("yt-dlp did not report an output file")
	}
	return path, nil
}

func (f *YtDlpFetcher) downloadArgs(format string, kind MediaKind) ([]string, error) {
	var args []string
	if f.ffmpegPath != "" {
		args = append(args, "--ffmpeg-location", f.ffmpegPath)
	}

	switch kind {
	case MediaKindVideo:
		selector, ok := map[string]string{
			"best":  "bestvideo+bestaudio/best",
			"1080p": "bestvideo[height<=1080]+bestaudio/best[height<=1080]",
			"720p":  "bestvideo[height<=720]+bestaudio/best[height<=720]",
			"480p":  "bestvideo[height<=480]+bestaudio/best[height<=480]",
			"360p":  "bestvideo[height<=360]+bestaudio/best[height<=360]",
		}[format]
		if !ok {
			return nil, fmt.Errorf("unsupported video format %q", format)
		}
		return append(args, "-f", selector, "--merge-output-format", "mp4"), nil
	case MediaKindAudio:
		quality, ok := map[string]string{
			"best": "0",
			"320k": "320K",
			"192k": "192K",
			"128k": "128K",
		}[format]
		if !ok {
			return nil, fmt.Errorf("unsupported audio format %q", format)
		}
		return append(args, "-f", "bestaudio/best", "-x", "--audio-format", "mp3", "--audio-quality", quality), nil
	}
	return nil, fmt.Errorf("unsupported media kind %q", kind)
}

func (f *YtDlpFetcher) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, f.binaryPath, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("yt-dlp failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out.Bytes(), nil
}
