// Package fetcher downloads every unit the dependency rows call for,
// walks their import graphs recursively and materializes peer-context
// permutations as content-identical copies of the base trees. Results
// land in three places: file content in the mirror directory, URL to
// filename mappings in the index, and an in-memory store handed to the
// relative-import mapper.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/nightconcept/cairn-go/internal/core/cdn"
	"github.com/nightconcept/cairn-go/internal/core/config"
	"github.com/nightconcept/cairn-go/internal/core/hasher"
	"github.com/nightconcept/cairn-go/internal/core/index"
	"github.com/nightconcept/cairn-go/internal/core/jsscan"
	"github.com/nightconcept/cairn-go/internal/core/permute"
)

// Options configure a fetch run.
type Options struct {
	Dir         string
	Hosts       map[string]bool
	Groups      []config.SameVersionGroup
	Concurrency int
	Retries     int
	UserAgent   string
	Force       bool

	// Logf and Warnf receive progress and warning messages. Warnings are
	// branch failures: the run continues without the affected unit.
	Logf  func(format string, args ...any)
	Warnf func(format string, args ...any)
	// Progress is called once per processed row.
	Progress func()
}

type Fetcher struct {
	opts  Options
	idx   *index.LookupIndex
	store *Store
	http  *retryablehttp.Client

	mu sync.Mutex // guards idx.URLToFile
}

func New(idx *index.LookupIndex, opts Options) *Fetcher {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Logf == nil {
		opts.Logf = func(string, ...any) {}
	}
	if opts.Warnf == nil {
		opts.Warnf = func(string, ...any) {}
	}
	return &Fetcher{
		opts:  opts,
		idx:   idx,
		store: NewStore(),
		http:  newRetryClient(opts.Retries),
	}
}

// Store exposes the fetched units for the relative-import mapper.
func (f *Fetcher) Store() *Store {
	return f.store
}

// NewHTTPClient returns a plain http.Client that retries transient
// failures (timeouts, connection errors, 5xx) with exponential backoff.
// Non-transient responses pass through on the first attempt.
func NewHTTPClient(retries int) *http.Client {
	return newRetryClient(retries).StandardClient()
}

func newRetryClient(retries int) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 8 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = nil
	return client
}

// Run processes the index rows in order. Rows already marked downloaded
// are skipped unless Force is set; each remaining row's tree is fetched
// (and, for permutation rows, replicated) to completion before the next
// row starts, so peers are always on disk before their dependents.
// After the last row it records transitively discovered units and
// removes base copies that exist only in permutation form.
func (f *Fetcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(f.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("creating mirror directory: %w", err)
	}

	rows := f.idx.Packages
	for i := range rows {
		row := &rows[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if row.Downloaded && !f.opts.Force {
			f.opts.Logf("skipping %s, already downloaded", row.Key())
			if f.opts.Progress != nil {
				f.opts.Progress()
			}
			continue
		}
		if f.processRow(ctx, row) {
			row.Downloaded = true
		}
		if f.opts.Progress != nil {
			f.opts.Progress()
		}
	}

	f.summarizeTransients()
	f.cleanupBases()
	return ctx.Err()
}

// processRow drains one unit tree with a bounded worker pool and
// reports whether the row's own unit made it into the store.
func (f *Fetcher) processRow(ctx context.Context, row *index.AnalyzedDependency) bool {
	base := cdn.StripContext(row.URL)
	w := newWorklist()
	if len(row.PeerContext) == 0 {
		w.add(task{url: base, key: base})
	} else {
		w.add(task{url: base, ctx: row.PeerContext, key: row.URL})
	}

	var wg sync.WaitGroup
	for i := 0; i < f.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				t, ok := w.take()
				if !ok {
					return
				}
				f.process(ctx, w, t)
				w.done()
			}
		}()
	}
	wg.Wait()

	if _, ok := f.store.Get(row.URL); !ok {
		f.opts.Warnf("%s could not be downloaded", row.Key())
		return false
	}
	return true
}

func (f *Fetcher) process(ctx context.Context, w *worklist, t task) {
	if t.ctx != nil {
		f.replicate(ctx, w, t)
		return
	}
	info, err := f.fetch(ctx, t.url)
	if err != nil {
		f.opts.Warnf("fetching %s: %v", t.url, err)
		return
	}
	for _, imp := range info.Imports {
		w.add(task{url: imp, key: imp})
	}
}

// fetch returns the memoized result for a context-free URL, reading it
// from the mirror directory when a previous run already holds it and
// downloading it otherwise.
func (f *Fetcher) fetch(ctx context.Context, url string) (*DependencyInfo, error) {
	if info, ok := f.store.Get(url); ok {
		return info, nil
	}
	unit, err := cdn.ParseUnitURL(url)
	if err != nil {
		return nil, err
	}

	var content []byte
	if !f.opts.Force {
		content = f.fromDisk(url)
	}
	if content == nil {
		content, err = f.download(ctx, url)
		if err != nil {
			return nil, err
		}
	}

	info, err := f.inspect(unit, url, content)
	if err != nil {
		return nil, err
	}
	info, _ = f.store.PutIfAbsent(info)
	if err := f.persist(info); err != nil {
		return nil, err
	}
	return info, nil
}

// inspect extracts and classifies the imports of a fetched file.
func (f *Fetcher) inspect(unit *cdn.UnitURL, url string, content []byte) (*DependencyInfo, error) {
	raw, err := jsscan.Scan(content)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", url, err)
	}

	info := &DependencyInfo{
		Name:    unit.Name,
		Version: unit.Version,
		URL:     url,
		Content: content,
		IsLeaf:  true,
	}
	for _, imp := range raw {
		if imp.Kind == jsscan.KindReExport && cdnAddressed(imp.Specifier) {
			info.IsLeaf = false
		}
		resolved, isURL, rerr := cdn.ResolveSpecifier(imp.Specifier, url)
		if rerr != nil {
			f.opts.Warnf("import %q in %s: %v", imp.Specifier, url, rerr)
			continue
		}
		if !isURL {
			continue // bare specifier, the import map's concern
		}
		if cdn.IsHost(resolved, f.opts.Hosts) {
			info.Imports = appendUnique(info.Imports, resolved)
		} else {
			info.Externals = appendUnique(info.Externals, resolved)
		}
	}
	return info, nil
}

// cdnAddressed matches the wrapper-module shapes: a root-relative path
// or a full URL. Unit-internal relative re-exports keep a file a leaf.
func cdnAddressed(specifier string) bool {
	return strings.HasPrefix(specifier, "/") ||
		strings.HasPrefix(specifier, "http://") ||
		strings.HasPrefix(specifier, "https://")
}

func (f *Fetcher) fromDisk(url string) []byte {
	f.mu.Lock()
	filename, ok := f.idx.URLToFile[url]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	content, err := os.ReadFile(filepath.Join(f.opts.Dir, filename))
	if err != nil {
		return nil
	}
	return content
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	f.opts.Logf("downloading %s", url)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return content, nil
}

// persist writes info's content under its canonical mirror filename and
// records the URL mapping. The filename is derived from the content
// token, so identical content always lands on the same name and
// re-persisting is a no-op.
func (f *Fetcher) persist(info *DependencyInfo) error {
	peers := permute.ContextPeers(info.Name, info.PeerContext, f.opts.Groups)
	filename := index.BuildFilename(info.Name, info.Version, peers, hasher.FileToken(info.Content))

	path := filepath.Join(f.opts.Dir, filename)
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.WriteFile(path, info.Content, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", filename, err)
		}
	}

	f.mu.Lock()
	f.idx.URLToFile[info.URL] = filename
	f.mu.Unlock()
	return nil
}

// summarizeTransients appends a row for every unit root that entered
// the mirror as a transitive dependency, so the index lists everything
// it actually serves. Packages that only exist in permutation form are
// left out; their base trees are about to be cleaned up.
func (f *Fetcher) summarizeTransients() {
	requires := requiresContext(f.idx.Packages)
	known := make(map[string]bool, len(f.idx.Packages))
	for _, row := range f.idx.Packages {
		known[row.Name+"@"+row.Version] = true
	}

	var added []index.AnalyzedDependency
	for _, url := range f.store.URLs() {
		if url != cdn.StripContext(url) {
			continue // a peer-context clone, tracked via urlToFile
		}
		unit, err := cdn.ParseUnitURL(url)
		if err != nil || unit.Subpath != "" {
			continue
		}
		id := unit.Name + "@" + unit.Version
		if known[id] || requires[id] {
			continue
		}
		known[id] = true
		added = append(added, index.AnalyzedDependency{
			Name:       unit.Name,
			Version:    unit.Version,
			URL:        url,
			Downloaded: true,
		})
	}

	if len(added) > 0 {
		f.opts.Logf("recorded %d transitive packages", len(added))
		f.idx.Packages = append(f.idx.Packages, added...)
		index.SortRows(f.idx.Packages)
	}
}

func appendUnique(list []string, s string) []string {
	for _, have := range list {
		if have == s {
			return list
		}
	}
	return append(list, s)
}
