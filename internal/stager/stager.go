package stager

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"transcode-bridge/internal/domain"
	"transcode-bridge/internal/metrics"
)

const (
	defaultInputName = "input_video.mp4"
	defaultExt       = ".mp4"
	defaultMimeType  = "video/mp4"
	inputPrefix      = "ffmpeg_input_"
	outputPrefix     = "ffmpeg_output_"
)

// ErrEmptyReference is returned when a stage operation gets no source.
var ErrEmptyReference = errors.New("source reference is required")

// ErrSourceNotFound is returned when a stage-out source does not exist.
var ErrSourceNotFound = errors.New("Source file not found")

// Options configures a Stager.
type Options struct {
	PrivateDir string
	PublicDir  string
	Resolvers  map[string]Resolver
	Indexer    Indexer
	Metrics    *metrics.Metrics
}

// Stager copies media between caller locations and the private working area.
type Stager struct {
	privateDir string
	publicDir  string
	resolvers  map[string]Resolver
	indexer    Indexer
	metrics    *metrics.Metrics

	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// New creates a stager from opts.
func New(opts Options) *Stager {
	s := &Stager{
		privateDir: opts.PrivateDir,
		publicDir:  opts.PublicDir,
		resolvers:  opts.Resolvers,
		indexer:    opts.Indexer,
		metrics:    opts.Metrics,
		entropy:    ulid.Monotonic(rand.Reader, 0),
		now:        time.Now,
	}
	if s.resolvers == nil {
		s.resolvers = DefaultResolvers()
	}
	if s.indexer == nil {
		s.indexer = NopIndexer{}
	}
	return s
}

// PrivateDir returns the private working area.
func (s *Stager) PrivateDir() string {
	return s.privateDir
}

// SetPublicDir changes the default stage-out folder.
func (s *Stager) SetPublicDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publicDir = dir
}

func (s *Stager) defaultPublicDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publicDir
}

// newULID returns a monotonic ULID string safe for concurrent use.
func (s *Stager) newULID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

// OutputPath allocates a fresh private-area path for an engine output.
func (s *Stager) OutputPath(ext string) (string, error) {
	if err := os.MkdirAll(s.privateDir, 0o755); err != nil {
		return "", domain.NewError(domain.KindIOFailure, "cannot create private directory", err)
	}
	return filepath.Join(s.privateDir, outputPrefix+s.newULID()+normalizeExt(ext)), nil
}

// StageIn copies ref's content into a fresh private-area file.
// A partially written destination is left in place on failure.
func (s *Stager) StageIn(ctx context.Context, ref string) (domain.StagedFile, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.StagedFile{}, domain.NewError(domain.KindInvalidInput, ErrEmptyReference.Error(), ErrEmptyReference)
	}

	resolver, err := resolverFor(s.resolvers, ref)
	if err != nil {
		return domain.StagedFile{}, domain.NewError(domain.KindInvalidInput, err.Error(), err)
	}

	name, err := resolver.DisplayName(ctx, ref)
	if err != nil || strings.TrimSpace(name) == "" {
		name = defaultInputName
	}

	if err := os.MkdirAll(s.privateDir, 0o755); err != nil {
		return domain.StagedFile{}, domain.NewError(domain.KindIOFailure, "cannot create private directory", err)
	}
	dest := filepath.Join(s.privateDir, inputPrefix+s.newULID()+normalizeExt(filepath.Ext(name)))

	src, err := resolver.Open(ctx, ref)
	if err != nil {
		return domain.StagedFile{}, domain.NewError(domain.KindIOFailure, "cannot open source", err)
	}
	defer src.Close()

	n, err := writeNew(dest, src)
	if err != nil {
		log.Warn().Err(err).Str("dest", dest).Int64("bytes", n).Msg("stage-in copy failed")
		return domain.StagedFile{}, domain.NewError(domain.KindIOFailure, "copy to private area failed", err)
	}
	s.metrics.AddStagedBytes("in", n)

	log.Info().Str("source", ref).Str("path", dest).Int64("bytes", n).Msg("staged in")
	return domain.StagedFile{
		SourceRef:    ref,
		LocalPath:    dest,
		OriginalName: name,
	}, nil
}

// StageOut moves localPath into destFolder (or the public folder) as displayName.
func (s *Stager) StageOut(ctx context.Context, localPath, displayName, destFolder string) (domain.StageOutResult, error) {
	localPath = strings.TrimSpace(localPath)
	if localPath == "" {
		return domain.StageOutResult{}, domain.NewError(domain.KindInvalidInput, ErrEmptyReference.Error(), ErrEmptyReference)
	}

	info, err := os.Stat(localPath)
	if err != nil || info.IsDir() {
		return domain.StageOutResult{}, domain.NewError(domain.KindIOFailure, ErrSourceNotFound.Error(), ErrSourceNotFound)
	}

	name := safeBaseName(displayName)
	if name == "" {
		name = filepath.Base(localPath)
	}
	folder := strings.TrimSpace(destFolder)
	if folder == "" {
		folder = s.defaultPublicDir()
	}
	if folder == "" {
		return domain.StageOutResult{}, domain.NewError(domain.KindInvalidInput, "destination folder is not configured", nil)
	}

	if err := os.MkdirAll(folder, 0o755); err != nil {
		return domain.StageOutResult{}, domain.NewError(domain.KindIOFailure, "cannot create destination folder", err)
	}
	finalPath := filepath.Join(folder, name)
	if samePath(localPath, finalPath) {
		// Already in place; copying onto itself would truncate the source.
		s.index(ctx, finalPath)
		log.Info().Str("path", finalPath).Msg("staged out in place")
		return domain.StageOutResult{Success: true, FinalPath: finalPath}, nil
	}

	n, err := copyFile(localPath, finalPath)
	if err != nil {
		return domain.StageOutResult{}, domain.NewError(domain.KindIOFailure, "copy to destination failed", err)
	}
	if n != info.Size() {
		err := fmt.Errorf("copied %d of %d bytes", n, info.Size())
		return domain.StageOutResult{}, domain.NewError(domain.KindIOFailure, "copy to destination incomplete", err)
	}
	s.metrics.AddStagedBytes("out", n)

	if err := os.Remove(localPath); err != nil {
		log.Warn().Err(err).Str("path", localPath).Msg("staged source not removed")
	}

	s.index(ctx, finalPath)

	log.Info().Str("source", localPath).Str("path", finalPath).Int64("bytes", n).Msg("staged out")
	return domain.StageOutResult{Success: true, FinalPath: finalPath}, nil
}

func (s *Stager) index(ctx context.Context, p string) {
	if err := s.indexer.Index(ctx, p, mimeTypeFor(p)); err != nil {
		log.Warn().Err(err).Str("path", p).Msg("media index failed")
	}
}

// samePath reports whether a and b name the same file.
func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA == nil && errB == nil && absA == absB {
		return true
	}
	infoA, err := os.Stat(a)
	if err != nil {
		return false
	}
	infoB, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(infoA, infoB)
}

// Sweep removes staged files older than maxAge and returns how many were removed.
func (s *Stager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.privateDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := s.now().Add(-maxAge)
	stale := lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		if e.IsDir() || !isStagedName(e.Name()) {
			return false
		}
		info, err := e.Info()
		return err == nil && info.ModTime().Before(cutoff)
	})

	removed := 0
	for _, e := range stale {
		p := filepath.Join(s.privateDir, e.Name())
		if err := os.Remove(p); err != nil {
			log.Warn().Err(err).Str("path", p).Msg("sweep remove failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("private area swept")
	}
	return removed, nil
}

// StartSweepLoop runs Sweep every interval until ctx is done.
func (s *Stager) StartSweepLoop(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 || maxAge <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(maxAge); err != nil {
					log.Warn().Err(err).Msg("sweep failed")
				}
			}
		}
	}()
}

func isStagedName(name string) bool {
	return strings.HasPrefix(name, inputPrefix) || strings.HasPrefix(name, outputPrefix)
}

// writeNew creates dest exclusively and copies src into it.
func writeNew(dest string, src io.Reader) (int64, error) {
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func copyFile(srcPath, destPath string) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// safeBaseName strips any directory part so names cannot escape the folder.
func safeBaseName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	base := filepath.Base(filepath.FromSlash(name))
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return ""
	}
	return base
}

func normalizeExt(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext == "" || ext == "." {
		return defaultExt
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return strings.ToLower(ext)
}

func mimeTypeFor(p string) string {
	if t := mime.TypeByExtension(filepath.Ext(p)); t != "" {
		return t
	}
	return defaultMimeType
}
