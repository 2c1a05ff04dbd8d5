package fetcher

import (
	"context"

	"github.com/nightconcept/cairn-go/internal/core/cdn"
)

// replicate materializes t.url under the peer context t.ctx: the base
// file is fetched if needed, a content-identical copy is stored under
// the context-qualified URL, and every import of the base is queued for
// the same replication. A unit that is itself pinned by the context is
// never cloned; its pinned version was fetched as a unit of its own,
// and its subtree belongs to that unit.
func (f *Fetcher) replicate(ctx context.Context, w *worklist, t task) {
	unit, err := cdn.ParseUnitURL(t.url)
	if err != nil {
		f.opts.Warnf("replicating %s: %v", t.url, err)
		return
	}
	if _, pinned := t.ctx[unit.Name]; pinned {
		return
	}

	base, err := f.fetch(ctx, t.url)
	if err != nil {
		f.opts.Warnf("fetching %s for replication: %v", t.url, err)
		return
	}

	clone := &DependencyInfo{
		Name:        base.Name,
		Version:     base.Version,
		URL:         cdn.ContextURL(t.url, t.ctx),
		Content:     base.Content,
		Imports:     base.Imports,
		Externals:   base.Externals,
		IsLeaf:      base.IsLeaf,
		PeerContext: t.ctx,
	}
	clone, stored := f.store.PutIfAbsent(clone)
	if stored {
		if err := f.persist(clone); err != nil {
			f.opts.Warnf("persisting %s: %v", clone.URL, err)
			return
		}
	}

	for _, imp := range base.Imports {
		w.add(task{url: imp, ctx: t.ctx, key: cdn.ContextURL(imp, t.ctx)})
	}
}
