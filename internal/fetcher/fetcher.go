package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/model"
	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/selector"
	"github.com/spf13/afero"
)

// partialSuffix marks a download in progress. Such files are never treated as cached.
const partialSuffix = ".part"

// Getter opens objects from the archive bucket.
type Getter interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// LocalFile is a selected volume materialised on disk.
type LocalFile struct {
	Site   model.Site
	Key    string
	Path   string
	Cached bool
}

// Error reports which site failed to download.
type Error struct {
	Site model.Site
	Key  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.Site, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fetcher downloads selected volumes into a local cache directory, one file
// per site named after the site.
type Fetcher struct {
	fs     afero.Fs
	getter Getter
	dir    string
}

func New(fs afero.Fs, getter Getter, dir string) *Fetcher {
	return &Fetcher{fs: fs, getter: getter, dir: dir}
}

// Path returns the cache path for a site.
func (f *Fetcher) Path(site model.Site) string {
	return filepath.Join(f.dir, string(site))
}

// Fetch materialises every selected key. A file already present for a site is
// trusted as-is and the store is not contacted for it. The first failure aborts.
func (f *Fetcher) Fetch(ctx context.Context, selection selector.Selection) ([]LocalFile, error) {
	if err := f.fs.MkdirAll(f.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	files := make([]LocalFile, 0, len(selection))
	for _, site := range selection.Sites() {
		key := selection[site].Key
		file := LocalFile{Site: site, Key: key, Path: f.Path(site)}

		exists, err := afero.Exists(f.fs, file.Path)
		if err != nil {
			return nil, &Error{Site: site, Key: key, Err: err}
		}
		if exists {
			slog.DebugContext(ctx, "using cached volume", "site", site, "path", file.Path)
			file.Cached = true
			files = append(files, file)
			continue
		}

		if err := f.download(ctx, key, file.Path); err != nil {
			return nil, &Error{Site: site, Key: key, Err: err}
		}
		slog.InfoContext(ctx, "downloaded volume", "site", site, "key", key, "path", file.Path)
		files = append(files, file)
	}
	return files, nil
}

func (f *Fetcher) download(ctx context.Context, key, path string) error {
	body, err := f.getter.Get(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()

	partial := path + partialSuffix
	out, err := f.fs.Create(partial)
	if err != nil {
		return fmt.Errorf("create %s: %w", partial, err)
	}

	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		f.fs.Remove(partial)
		return fmt.Errorf("write %s: %w", partial, err)
	}
	if err := out.Close(); err != nil {
		f.fs.Remove(partial)
		return fmt.Errorf("close %s: %w", partial, err)
	}

	if err := f.fs.Rename(partial, path); err != nil {
		return fmt.Errorf("rename %s: %w", partial, err)
	}
	return nil
}
