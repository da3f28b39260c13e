// Package pages resolves a document reference to its page images.
//
// A reference is either a directory of page images (sorted by the number in
// each filename) or a PDF file. PDF pages are rendered once with pdftoppm and
// cached under the page cache directory.
package pages

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"
)

// ErrPageOutOfRange is returned when a requested page does not exist.
var ErrPageOutOfRange = errors.New("page out of range")

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true}

// Renderer rasterizes one 1-based page of a PDF to PNG bytes.
type Renderer func(ctx context.Context, pdfPath string, page int) ([]byte, error)

// Config configures a Loader.
type Config struct {
	// CacheDir holds rendered PDF pages. Required for PDF references.
	CacheDir string
	// Concurrency bounds parallel page loads (default 4).
	Concurrency int
	// Render overrides the pdftoppm renderer (tests).
	Render Renderer
	// DPI for pdftoppm rendering (default 150).
	DPI    int
	Logger *slog.Logger
}

// Loader counts and loads document pages.
type Loader struct {
	cacheDir    string
	concurrency int
	render      Renderer
	logger      *slog.Logger
}

// NewLoader creates a page loader.
func NewLoader(cfg Config) *Loader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 150
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Render == nil {
		cfg.Render = pdftoppm(cfg.DPI)
	}
	return &Loader{
		cacheDir:    cfg.CacheDir,
		concurrency: cfg.Concurrency,
		render:      cfg.Render,
		logger:      cfg.Logger,
	}
}

// PageCount returns the number of pages behind ref.
func (l *Loader) PageCount(ctx context.Context, ref string) (int, error) {
	info, err := os.Stat(ref)
	if err != nil {
		return 0, fmt.Errorf("failed to stat document %s: %w", ref, err)
	}
	if info.IsDir() {
		images, err := listImages(ref)
		if err != nil {
			return 0, err
		}
		return len(images), nil
	}
	if !isPDF(ref) {
		return 0, fmt.Errorf("unsupported document reference %s: want a PDF or an image directory", ref)
	}
	return pdfPageCount(ref)
}

// Load returns the images for the given 1-based pages, in the same order.
func (l *Loader) Load(ctx context.Context, ref string, pageNums []int) ([][]byte, error) {
	info, err := os.Stat(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to stat document %s: %w", ref, err)
	}

	var load func(ctx context.Context, page int) ([]byte, error)
	if info.IsDir() {
		images, err := listImages(ref)
		if err != nil {
			return nil, err
		}
		load = func(_ context.Context, page int) ([]byte, error) {
			if page < 1 || page > len(images) {
				return nil, fmt.Errorf("page %d of %d: %w", page, len(images), ErrPageOutOfRange)
			}
			return os.ReadFile(images[page-1])
		}
	} else {
		total, err := pdfPageCount(ref)
		if err != nil {
			return nil, err
		}
		load = func(ctx context.Context, page int) ([]byte, error) {
			if page < 1 || page > total {
				return nil, fmt.Errorf("page %d of %d: %w", page, total, ErrPageOutOfRange)
			}
			return l.cachedRender(ctx, ref, page)
		}
	}

	out := make([][]byte, len(pageNums))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, page := range pageNums {
		g.Go(func() error {
			data, err := load(gctx, page)
			if err != nil {
				return fmt.Errorf("failed to load page %d: %w", page, err)
			}
			out[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Loader) cachedRender(ctx context.Context, pdfPath string, page int) ([]byte, error) {
	if l.cacheDir == "" {
		return l.render(ctx, pdfPath, page)
	}
	dir := filepath.Join(l.cacheDir, cacheKey(pdfPath))
	path := filepath.Join(dir, fmt.Sprintf("page_%04d.png", page))
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	}

	data, err := l.render(ctx, pdfPath, page)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		l.logger.Warn("failed to create page cache directory", "dir", dir, "error", err)
		return data, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		l.logger.Warn("failed to cache rendered page", "path", path, "error", err)
	}
	return data, nil
}

func cacheKey(pdfPath string) string {
	abs, err := filepath.Abs(pdfPath)
	if err != nil {
		abs = pdfPath
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:8])
}

func pdfPageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(f, conf)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count for %s: %w", path, err)
	}
	return n, nil
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

var pageNumber = regexp.MustCompile(`(\d+)`)

// listImages returns image files in dir ordered by the last number in each
// filename, then by name.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read image directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.SliceStable(paths, func(i, j int) bool {
		ni, nj := trailingNumber(paths[i]), trailingNumber(paths[j])
		if ni != nj {
			return ni < nj
		}
		return paths[i] < paths[j]
	})
	return paths, nil
}

func trailingNumber(path string) int {
	matches := pageNumber.FindAllString(filepath.Base(path), -1)
	if len(matches) == 0 {
		return -1
	}
	n, err := strconv.Atoi(matches[len(matches)-1])
	if err != nil {
		return -1
	}
	return n
}

// pdftoppm renders a page with poppler-utils.
func pdftoppm(dpi int) Renderer {
	return func(ctx context.Context, pdfPath string, page int) ([]byte, error) {
		tmpDir, err := os.MkdirTemp("", "takeoff-page-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(tmpDir)

		prefix := filepath.Join(tmpDir, "page")
		pageStr := strconv.Itoa(page)
		cmd := exec.CommandContext(ctx, "pdftoppm",
			"-png",
			"-f", pageStr,
			"-l", pageStr,
			"-r", strconv.Itoa(dpi),
			"-singlefile",
			pdfPath,
			prefix,
		)
		if output, err := cmd.CombinedOutput(); err != nil {
			return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
		}
		data, err := os.ReadFile(prefix + ".png")
		if err != nil {
			return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
		}
		return data, nil
	}
}
