package runner

import (
	"sort"
	"strconv"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Registry tracks the current helper handles so that other goroutines
// (the status API) can inspect them while the scheduler owns their
// lifecycle.
type Registry struct {
	handles cmap.ConcurrentMap[string, Handle]
}

func NewRegistry() *Registry {
	return &Registry{handles: cmap.New[Handle]()}
}

// Track records h under its tag, replacing any previous handle.
func (r *Registry) Track(h Handle) {
	r.handles.Set(strconv.Itoa(h.Tag()), h)
}

// Forget removes the handle for tag if it is still h.
func (r *Registry) Forget(h Handle) {
	r.handles.RemoveCb(strconv.Itoa(h.Tag()), func(_ string, v Handle, exists bool) bool {
		return exists && v == h
	})
}

// Snapshot returns the tracked handles ordered by tag.
func (r *Registry) Snapshot() []Handle {
	items := r.handles.Items()
	out := make([]Handle, 0, len(items))
	for _, h := range items {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag() < out[j].Tag() })
	return out
}
