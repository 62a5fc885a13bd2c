package server

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thothlabs/thoth/internal/config"
)

// maxArchiveBytes bounds how much of a seed archive is read into memory.
const maxArchiveBytes = 256 << 20

type cloneRequest struct {
	Source     string `json:"source"`
	ArchiveURL string `json:"archive_url"`
}

// handleCloneHandbook seeds a source's object prefix from an upstream zip
// archive. Already-seeded prefixes are left alone.
func (s *Server) handleCloneHandbook(c *gin.Context) {
	var req cloneRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid request body"})
			return
		}
	}
	if req.Source == "" {
		req.Source = "handbook"
	}
	if req.ArchiveURL == "" {
		req.ArchiveURL = s.env.Settings.HandbookArchiveURL
	}

	src, ok := s.env.Registry.Get(req.Source)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  fmt.Sprintf("unknown source %q", req.Source),
		})
		return
	}
	if req.ArchiveURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "no archive URL configured",
		})
		return
	}

	ctx := c.Request.Context()
	seeded, err := s.env.Bucket.Exists(ctx, src.ObjectPrefix)
	if err != nil {
		s.internalError(c, "probing source prefix", err)
		return
	}
	if seeded {
		c.JSON(http.StatusOK, gin.H{"status": "exists", "source": src.Name})
		return
	}

	start := time.Now()
	count, err := s.seedFromArchive(c, src, req.ArchiveURL)
	if err != nil {
		slog.Error("seeding source", slog.String("source", src.Name), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}

	slog.Info("source seeded",
		slog.String("source", src.Name),
		slog.Int("files", count),
		slog.Duration("duration", time.Since(start)))
	c.JSON(http.StatusOK, gin.H{"status": "success", "source": src.Name, "files": count})
}

// seedFromArchive downloads the zip and uploads every supported file under
// the source prefix. The archive's single top-level directory is stripped.
func (s *Server) seedFromArchive(c *gin.Context, src config.SourceConfig, archiveURL string) (int, error) {
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, archiveURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("archive download returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveBytes))
	if err != nil {
		return 0, err
	}
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}

	count := 0
	for _, f := range reader.File {
		if f.FileInfo().IsDir() || !src.Supports(path.Ext(f.Name)) {
			continue
		}
		rel := stripArchiveRoot(f.Name)
		if rel == "" || strings.Contains(rel, "..") {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return count, err
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return count, err
		}

		key := path.Join(strings.TrimRight(src.ObjectPrefix, "/"), rel)
		if err := s.env.Bucket.Put(c.Request.Context(), key, content); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// stripArchiveRoot drops the repository-name directory that hosted zip
// exports prepend to every entry.
func stripArchiveRoot(name string) string {
	name = path.Clean(strings.TrimPrefix(name, "/"))
	if slash := strings.IndexByte(name, '/'); slash >= 0 {
		return name[slash+1:]
	}
	return name
}
