package validator

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
)

// DefaultMaxArchiveBytes is the upload cap for a submission archive.
const DefaultMaxArchiveBytes = 5 * 1024 * 1024

// Options configures a Validator.
type Options struct {
	MaxArchiveBytes int64
	// MaxExtractBytes caps the total uncompressed size written during extraction.
	MaxExtractBytes  int64
	SingleFilePolicy bool
}

// Submission is an extracted, validated source tree ready to build or run.
type Submission struct {
	Dir        string
	EntryPoint string
	Language   domain.Language
}

// Validator checks uploaded archives and unpacks them into a scratch directory.
type Validator struct {
	opts      Options
	languages mapset.Set[domain.Language]
	mimeTypes mapset.Set[string]
	logger    *zap.Logger
}

// New creates a Validator. Zero limits fall back to defaults.
func New(opts Options, logger *zap.Logger) *Validator {
	if opts.MaxArchiveBytes <= 0 {
		opts.MaxArchiveBytes = DefaultMaxArchiveBytes
	}
	if opts.MaxExtractBytes <= 0 {
		opts.MaxExtractBytes = 16 * opts.MaxArchiveBytes
	}
	return &Validator{
		opts:      opts,
		languages: mapset.NewSet(domain.LangPython, domain.LangCpp),
		mimeTypes: mapset.NewSet("application/zip", "application/x-zip-compressed"),
		logger:    logger,
	}
}

// Validate checks the archive at path against the declared language and extracts it
// into destDir, which is recreated from scratch.
func (v *Validator) Validate(path string, lang domain.Language, destDir string) (*Submission, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
	}

	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: detect content type: %v", domain.ErrInvalidFormat, err)
	}
	if !v.mimeTypes.Contains(mime.String()) {
		return nil, fmt.Errorf("%w: content type %s", domain.ErrInvalidFormat, mime.String())
	}

	if info.Size() > v.opts.MaxArchiveBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", domain.ErrSizeExceeded, info.Size(), v.opts.MaxArchiveBytes)
	}

	if !v.languages.Contains(lang) {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedLanguage, lang)
	}

	if err := os.RemoveAll(destDir); err != nil {
		return nil, fmt.Errorf("validator: clear work dir: %w", err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("validator: create work dir: %w", err)
	}

	if err := v.extract(path, destDir); err != nil {
		return nil, err
	}

	root, err := sourceRoot(destDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptArchive, err)
	}

	entry, err := v.resolveEntryPoint(root, lang)
	if err != nil {
		return nil, err
	}

	v.logger.Debug("Submission extracted",
		zap.String("dir", root),
		zap.String("entry_point", entry),
		zap.String("language", string(lang)),
	)

	return &Submission{Dir: root, EntryPoint: entry, Language: lang}, nil
}

func (v *Validator) extract(path, destDir string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCorruptArchive, err)
	}
	defer r.Close()

	budget := v.opts.MaxExtractBytes
	for _, f := range r.File {
		name := filepath.FromSlash(f.Name)
		if !filepath.IsLocal(name) {
			return fmt.Errorf("%w: entry %q escapes the archive root", domain.ErrCorruptArchive, f.Name)
		}
		target := filepath.Join(destDir, name)

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("validator: mkdir %s: %w", f.Name, err)
			}
			continue
		case !mode.IsRegular():
			// Symlinks and devices are dropped.
			continue
		}

		if int64(f.UncompressedSize64) > budget {
			return fmt.Errorf("%w: uncompressed content exceeds %d bytes", domain.ErrSizeExceeded, v.opts.MaxExtractBytes)
		}
		n, err := extractFile(f, target, budget)
		if err != nil {
			return err
		}
		budget -= n
	}
	return nil
}

func extractFile(f *zip.File, target string, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("validator: mkdir for %s: %w", f.Name, err)
	}
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", domain.ErrCorruptArchive, f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("validator: create %s: %w", f.Name, err)
	}
	defer out.Close()

	// One extra byte detects entries whose header under-reports their size.
	n, err := io.Copy(out, io.LimitReader(rc, budget+1))
	if err != nil {
		return n, fmt.Errorf("%w: read %s: %v", domain.ErrCorruptArchive, f.Name, err)
	}
	if n > budget {
		return n, fmt.Errorf("%w: uncompressed content exceeds limit", domain.ErrSizeExceeded)
	}
	return n, nil
}

// sourceRoot descends into a single top-level directory, which is how most
// archivers package a folder.
func sourceRoot(dir string) (string, error) {
	for {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", err
		}
		visible := entries[:0]
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".") || e.Name() == "__MACOSX" {
				continue
			}
			visible = append(visible, e)
		}
		if len(visible) != 1 || !visible[0].IsDir() {
			return dir, nil
		}
		dir = filepath.Join(dir, visible[0].Name())
	}
}

func (v *Validator) resolveEntryPoint(dir string, lang domain.Language) (string, error) {
	entry := filepath.Join(dir, lang.EntryPoint())

	sources, err := listSources(dir, lang.Extension())
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCorruptArchive, err)
	}

	if v.opts.SingleFilePolicy {
		switch len(sources) {
		case 0:
			return "", fmt.Errorf("%w: no %s file", domain.ErrMissingEntryPoint, lang.Extension())
		case 1:
			return normalize(filepath.Join(dir, sources[0]), entry)
		default:
			return "", fmt.Errorf("%w: %s", domain.ErrAmbiguousSources, strings.Join(sources, ", "))
		}
	}

	if _, err := os.Stat(entry); err == nil {
		return entry, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("validator: stat entry point: %w", err)
	}
	if len(sources) == 1 {
		return normalize(filepath.Join(dir, sources[0]), entry)
	}
	return "", fmt.Errorf("%w: expected %s", domain.ErrMissingEntryPoint, lang.EntryPoint())
}

func listSources(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ext) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func normalize(src, entry string) (string, error) {
	if src == entry {
		return entry, nil
	}
	if err := os.Rename(src, entry); err != nil {
		return "", fmt.Errorf("validator: rename %s: %w", filepath.Base(src), err)
	}
	return entry, nil
}
