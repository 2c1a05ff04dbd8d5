package fetcher

import (
	"sort"
	"sync"

	"github.com/nightconcept/cairn-go/internal/core/cdn"
)

// DependencyInfo is the in-memory result of fetching one file: its
// content plus everything later stages need to know about it. It lives
// only for the duration of a run; rows and files are its persisted form.
type DependencyInfo struct {
	Name        string
	Version     string
	URL         string
	Content     []byte
	Imports     []string // resolved CDN URLs this file imports, fetched recursively
	Externals   []string // absolute non-CDN imports, recorded but never fetched
	IsLeaf      bool
	PeerContext map[string]string
}

// Store memoizes fetch results by exact URL, peer-context query
// included. It is shared by all workers of a run.
type Store struct {
	mu    sync.Mutex
	items map[string]*DependencyInfo
}

func NewStore() *Store {
	return &Store{items: make(map[string]*DependencyInfo)}
}

func (s *Store) Get(url string) (*DependencyInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.items[url]
	return info, ok
}

// PutIfAbsent records info under its URL and reports whether it was
// stored. When the URL is already present the existing entry wins, so
// racing workers converge on one result.
func (s *Store) PutIfAbsent(info *DependencyInfo) (*DependencyInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[info.URL]; ok {
		return existing, false
	}
	s.items[info.URL] = info
	return info, true
}

// URLs returns every stored URL in sorted order.
func (s *Store) URLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	urls := make([]string, 0, len(s.items))
	for u := range s.items {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// ListByBaseURL returns every stored entry whose context-free URL is
// base, sorted by URL. Used to locate the context-tagged twins of a
// file when an exact context match does not exist.
func (s *Store) ListByBaseURL(base string) []*DependencyInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*DependencyInfo
	for u, info := range s.items {
		if cdn.StripContext(u) == base {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
