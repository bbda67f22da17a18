package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/posecoach/internal/transport"
)

// imageTypes maps accepted file extensions to data URL media types.
var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// listFrames returns the image files in dir in name order.
func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := imageTypes[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no image files in %s", dir)
	}
	return paths, nil
}

// dataURL reads path and encodes it the way a browser canvas capture does.
func dataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mediaType := imageTypes[strings.ToLower(filepath.Ext(path))]
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// replayFrames emits the images in dir as frames at fps until the directory
// is exhausted (or, with loop, until ctx is done). The channel is closed when
// replay ends. Unreadable files are skipped.
func replayFrames(ctx context.Context, dir string, fps float64, loop bool) (<-chan transport.Frame, error) {
	paths, err := listFrames(dir)
	if err != nil {
		return nil, err
	}
	if fps <= 0 {
		fps = 10
	}
	interval := time.Duration(float64(time.Second) / fps)

	out := make(chan transport.Frame)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			for _, p := range paths {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
				img, err := dataURL(p)
				if err != nil {
					slog.Warn("replay: skipping frame", "path", p, "err", err)
					continue
				}
				select {
				case out <- transport.Frame{Image: img, Timestamp: time.Now().UnixMilli()}:
				case <-ctx.Done():
					return
				}
			}
			if !loop {
				slog.Info("replay: all frames sent", "count", len(paths))
				return
			}
		}
	}()
	return out, nil
}
