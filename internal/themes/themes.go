// Package themes holds the static forum registry. Forum ids and display
// names are configuration data, not computed by the crawl core.
package themes

import "sort"

// Theme is one crawlable forum section.
type Theme struct {
	Name string `json:"name"`
	FID  string `json:"fid"`
}

// Registry maps forum ids to themes.
type Registry struct {
	themes map[string]Theme
}

// Default returns the registry of known forum sections.
func Default() *Registry {
	entries := []Theme{
		{Name: "亚洲无码", FID: "36"},
		{Name: "亚洲有码", FID: "37"},
		{Name: "国产原创", FID: "2"},
		{Name: "高清中文字幕", FID: "103"},
		{Name: "素人原创", FID: "104"},
		{Name: "动漫原创", FID: "39"},
		{Name: "韩国主播", FID: "152"},
	}
	themes := make(map[string]Theme, len(entries))
	for _, t := range entries {
		themes[t.FID] = t
	}
	return &Registry{themes: themes}
}

// FromMap builds a registry from configured fid→name pairs, overriding the
// built-in set. An empty map falls back to Default.
func FromMap(names map[string]string) *Registry {
	if len(names) == 0 {
		return Default()
	}
	themes := make(map[string]Theme, len(names))
	for fid, name := range names {
		themes[fid] = Theme{Name: name, FID: fid}
	}
	return &Registry{themes: themes}
}

// Get looks up a theme by forum id.
func (r *Registry) Get(fid string) (Theme, bool) {
	t, ok := r.themes[fid]
	return t, ok
}

// Name returns the display name for a forum id, falling back to a generic
// label for unknown sections.
func (r *Registry) Name(fid string) string {
	if t, ok := r.themes[fid]; ok {
		return t.Name
	}
	return "论坛" + fid
}

// All returns every theme keyed by forum id.
func (r *Registry) All() map[string]Theme {
	out := make(map[string]Theme, len(r.themes))
	for fid, t := range r.themes {
		out[fid] = t
	}
	return out
}

// IDs returns the known forum ids in stable order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.themes))
	for fid := range r.themes {
		ids = append(ids, fid)
	}
	sort.Strings(ids)
	return ids
}
