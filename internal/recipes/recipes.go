// Package recipes loads the catalog of reusable transformation plans.
package recipes

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/sheetwise"
	"gopkg.in/yaml.v3"
)

//go:embed catalog/*.yaml
var builtin embed.FS

// File is one recipe document.
type File struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Recipes     []Recipe `yaml:"recipes"`
}

// Recipe is a named, reusable plan template.
type Recipe struct {
	ID          string         `yaml:"id" json:"id"`
	Title       string         `yaml:"title" json:"title"`
	Description string         `yaml:"description" json:"description"`
	Category    string         `yaml:"category" json:"category"`
	Tags        []string       `yaml:"tags" json:"tags"`
	UsageCount  int            `yaml:"usage_count,omitempty" json:"usageCount"`
	Rating      float64        `yaml:"rating,omitempty" json:"rating"`
	Actions     []RecipeAction `yaml:"actions" json:"-"`
}

// RecipeAction is a plan step as written in YAML.
type RecipeAction struct {
	Type        string         `yaml:"type"`
	Sheet       string         `yaml:"sheet"`
	Description string         `yaml:"description"`
	Params      map[string]any `yaml:"params"`
}

// Plan converts the recipe's actions into a typed plan.
func (r Recipe) Plan() (sheetwise.Plan, error) {
	plan := make(sheetwise.Plan, 0, len(r.Actions))
	for i, ra := range r.Actions {
		a, err := sheetwise.DecodeAction(sheetwise.ActionType(ra.Type), ra.Sheet, ra.Description, ra.Params)
		if err != nil {
			return nil, fmt.Errorf("recipe '%s' action %d: %w", r.ID, i, err)
		}
		plan = append(plan, a)
	}
	return sheetwise.NormalizePlan(plan), nil
}

// Loader reads a File from a source (path, bytes, etc.).
type Loader interface {
	Load(source string) (*File, error)
	Format() string // e.g., "yaml"
}

var (
	loaderMu       sync.RWMutex
	loaderRegistry = make(map[string]Loader)
)

// RegisterLoader registers a Loader for its format.
func RegisterLoader(loader Loader) {
	loaderMu.Lock()
	defer loaderMu.Unlock()
	loaderRegistry[loader.Format()] = loader
}

// GetLoader retrieves a loader by format name.
func GetLoader(format string) (Loader, bool) {
	loaderMu.RLock()
	defer loaderMu.RUnlock()
	loader, ok := loaderRegistry[format]
	return loader, ok
}

// YAMLLoader reads recipe files from disk.
type YAMLLoader struct{}

func (YAMLLoader) Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipe file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

func (YAMLLoader) Format() string { return "yaml" }

func init() {
	RegisterLoader(YAMLLoader{})
}

// Decode parses one YAML recipe document.
func Decode(r io.Reader) (*File, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse recipe YAML: %w", err)
	}
	return &file, nil
}

// Validate checks for duplicate IDs, missing titles, undescribed actions and
// plans that would not pass sheetwise.ValidatePlan.
func (f *File) Validate() error {
	ids := make(map[string]struct{}, len(f.Recipes))
	for _, r := range f.Recipes {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("recipe with title '%s' has no id", r.Title)
		}
		if _, exists := ids[r.ID]; exists {
			return fmt.Errorf("duplicate recipe ID found: %s", r.ID)
		}
		ids[r.ID] = struct{}{}

		if strings.TrimSpace(r.Title) == "" {
			return fmt.Errorf("recipe '%s' has no title", r.ID)
		}
		for i, a := range r.Actions {
			if strings.TrimSpace(a.Type) == "" {
				return fmt.Errorf("recipe '%s' action %d has no type", r.ID, i)
			}
			if strings.TrimSpace(a.Description) == "" {
				return fmt.Errorf("recipe '%s' action %d (%s) has no description", r.ID, i, a.Type)
			}
		}
		plan, err := r.Plan()
		if err != nil {
			return err
		}
		if v := sheetwise.ValidatePlan(plan); !v.Valid {
			return fmt.Errorf("recipe '%s' has an invalid plan: %s", r.ID, strings.Join(v.Errors, "; "))
		}
	}
	return nil
}

// Catalog is a read-only, validated set of recipes.
type Catalog struct {
	recipes []Recipe
	byID    map[string]int
}

// NewCatalog merges files in order. Later files may not redefine an ID.
func NewCatalog(files ...*File) (*Catalog, error) {
	merged := &File{}
	for _, f := range files {
		if f != nil {
			merged.Recipes = append(merged.Recipes, f.Recipes...)
		}
	}
	if err := merged.Validate(); err != nil {
		return nil, sheetwise.NewValidationError("recipes", "invalid recipe catalog", err)
	}
	c := &Catalog{recipes: merged.Recipes, byID: make(map[string]int, len(merged.Recipes))}
	for i, r := range merged.Recipes {
		c.byID[r.ID] = i
	}
	return c, nil
}

// Builtin parses the embedded catalog.
func Builtin() (*File, error) {
	data, err := builtin.ReadFile("catalog/default.yaml")
	if err != nil {
		return nil, err
	}
	return Decode(bytes.NewReader(data))
}

// LoadDir reads every *.yaml and *.yml file in dir, in name order.
func LoadDir(dir string) ([]*File, error) {
	loader, ok := GetLoader("yaml")
	if !ok {
		return nil, fmt.Errorf("no YAML recipe loader registered")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe directory: %w", err)
	}
	var files []*File
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		f, err := loader.Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		files = append(files, f)
	}
	return files, nil
}

// Load builds the catalog from the embedded recipes plus any files in dir.
// An empty dir loads the embedded recipes only.
func Load(dir string) (*Catalog, error) {
	def, err := Builtin()
	if err != nil {
		return nil, sheetwise.NewConfigurationError("failed to load built-in recipes", err)
	}
	files := []*File{def}
	if dir != "" {
		extra, err := LoadDir(dir)
		if err != nil {
			return nil, sheetwise.NewConfigurationError("failed to load recipes", err)
		}
		files = append(files, extra...)
	}
	return NewCatalog(files...)
}

// List returns recipes in catalog order, restricted to category when it is non-empty.
func (c *Catalog) List(category string) []Recipe {
	out := make([]Recipe, 0, len(c.recipes))
	for _, r := range c.recipes {
		if category == "" || strings.EqualFold(r.Category, category) {
			out = append(out, r)
		}
	}
	return out
}

// Get returns the recipe with id.
func (c *Catalog) Get(id string) (Recipe, error) {
	i, ok := c.byID[id]
	if !ok {
		return Recipe{}, sheetwise.NewNotFoundError("recipes", fmt.Sprintf("recipe '%s'", id))
	}
	return c.recipes[i], nil
}

// Search returns recipes whose title, description or tags contain text, case-insensitively.
func (c *Catalog) Search(text string) []Recipe {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return c.List("")
	}
	var out []Recipe
	for _, r := range c.recipes {
		if matches(r, needle) {
			out = append(out, r)
		}
	}
	return out
}

func matches(r Recipe, needle string) bool {
	if strings.Contains(strings.ToLower(r.Title), needle) ||
		strings.Contains(strings.ToLower(r.Description), needle) {
		return true
	}
	for _, tag := range r.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// Categories returns the distinct categories in sorted order.
func (c *Catalog) Categories() []string {
	seen := make(map[string]struct{})
	for _, r := range c.recipes {
		seen[r.Category] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for cat := range seen {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of recipes.
func (c *Catalog) Len() int { return len(c.recipes) }
