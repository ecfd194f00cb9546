package source

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Catalog lists the recorded sources and resolves them to playable URLs.
// Resolved URLs are memoized in an explicit per-catalog cache; there is no
// module-level state.
type Catalog struct {
	mu       sync.Mutex
	baseURL  string
	entries  []VideoSource
	resolved map[string]string
	misses   int
}

// NewCatalog builds a catalog over the given recorded entries. baseURL is
// the video-delivery endpoint recorded filenames resolve against.
func NewCatalog(baseURL string, entries []VideoSource) *Catalog {
	return &Catalog{
		baseURL:  strings.TrimRight(baseURL, "/"),
		entries:  entries,
		resolved: make(map[string]string),
	}
}

// LoadCatalog reads recorded entries from a YAML file. An empty path yields
// the built-in demo catalog.
func LoadCatalog(path, baseURL string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(baseURL, DefaultSources()), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var entries []VideoSource
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for i := range entries {
		if entries[i].Kind == "" {
			entries[i].Kind = KindFile
		}
	}
	return NewCatalog(baseURL, entries), nil
}

// List returns the catalog entries in order.
func (c *Catalog) List() []VideoSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]VideoSource, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lookup finds a recorded source by id.
func (c *Catalog) Lookup(id string) (VideoSource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.Find(c.entries, func(s VideoSource) bool { return s.ID == id })
}

// Resolve returns the playable URL for a recorded source id. Results are
// cached until Invalidate is called for the id.
func (c *Catalog) Resolve(id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if u, ok := c.resolved[id]; ok {
		return u, nil
	}

	entry, ok := lo.Find(c.entries, func(s VideoSource) bool { return s.ID == id })
	if !ok {
		return "", fmt.Errorf("unknown source id %q", id)
	}

	c.misses++
	u := c.baseURL + "/" + entry.Filename
	c.resolved[id] = u
	return u, nil
}

// Invalidate evicts one id from the resolution cache; the next Resolve
// recomputes it.
func (c *Catalog) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.resolved, id)
}

// DefaultSources mirrors the demo camera set served by the video-delivery
// collaborator.
func DefaultSources() []VideoSource {
	return []VideoSource{
		{ID: "football", Name: "Backyard Cam", Kind: KindFile, Filename: "football.mp4", Description: "Football game in backyard"},
		{ID: "cat_food", Name: "Cat Cam", Kind: KindFile, Filename: "cat_food.mp4", Description: "Cat food monitoring"},
		{ID: "gauge", Name: "Gauge Cam", Kind: KindFile, Filename: "gauge.mp4", Description: "Gauge monitoring"},
		{ID: "pedestrians", Name: "Street Cam", Kind: KindFile, Filename: "pedestrians.mp4", Description: "Pedestrians on sidewalk"},
		{ID: "thermometer", Name: "Thermometer Cam", Kind: KindFile, Filename: "thermometer.mp4", Description: "Temperature monitoring"},
		{ID: "times_square", Name: "Times Square Cam", Kind: KindFile, Filename: "times_square.mp4", Description: "Times Square street view"},
	}
}
