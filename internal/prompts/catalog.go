// Package prompts holds the versioned catalog of analysis prompt templates.
//
// Templates are data embedded at build time. A published version is never
// edited; new wording ships as a new version under the same id. Each version
// pins the output contract revision it was written against, and its schema
// description is rendered from that revision.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/influix/influix/internal/schema"
)

// ErrNotFound is returned when no template matches the requested id or version.
var ErrNotFound = errors.New("prompt template not found")

//go:embed templates/*.yaml
var embedded embed.FS

// Template is one immutable version of a prompt.
type Template struct {
	ID                      string `json:"id"`
	Name                    string `json:"name"`
	Version                 int    `json:"version"`
	Contract                string `json:"contract"`
	ContractRevision        int    `json:"contract_revision"`
	SystemIntent            string `json:"system_intent"`
	AnalysisInstruction     string `json:"analysis_instruction"`
	OutputSchemaDescription string `json:"output_schema_description"`
}

// Catalog is a read-only index of templates by id and version.
type Catalog struct {
	byID map[string][]Template // ascending by version
}

type templateFile struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Contract string `yaml:"contract"`
	Versions []struct {
		Version             int    `yaml:"version"`
		ContractRevision    int    `yaml:"contract_revision"`
		SystemIntent        string `yaml:"system_intent"`
		AnalysisInstruction string `yaml:"analysis_instruction"`
	} `yaml:"versions"`
}

var defaultCatalog = sync.OnceValue(func() *Catalog {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		panic(fmt.Sprintf("prompts: opening embedded templates: %v", err))
	}
	c, err := Load(sub)
	if err != nil {
		panic(fmt.Sprintf("prompts: %v", err))
	}
	return c
})

// Default returns the catalog built from the embedded templates. It panics
// if any embedded template is malformed.
func Default() *Catalog {
	return defaultCatalog()
}

// Load reads every *.yaml file at the root of fsys into a catalog.
func Load(fsys fs.FS) (*Catalog, error) {
	names, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	if len(names) == 0 {
		return nil, errors.New("no templates found")
	}

	c := &Catalog{byID: make(map[string][]Template, len(names))}
	for _, name := range names {
		f, err := fsys.Open(name)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", name, err)
		}
		var tf templateFile
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		err = dec.Decode(&tf)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		if err := c.register(tf); err != nil {
			return nil, fmt.Errorf("%s: %w", path.Base(name), err)
		}
	}
	return c, nil
}

func (c *Catalog) register(tf templateFile) error {
	if tf.ID == "" {
		return errors.New("template id is empty")
	}
	if _, dup := c.byID[tf.ID]; dup {
		return fmt.Errorf("duplicate template id %q", tf.ID)
	}
	if tf.Name == "" {
		return fmt.Errorf("template %q has no name", tf.ID)
	}
	if _, err := schema.Lookup(tf.Contract); err != nil {
		return fmt.Errorf("template %q: %w", tf.ID, err)
	}
	if len(tf.Versions) == 0 {
		return fmt.Errorf("template %q has no versions", tf.ID)
	}

	versions := make([]Template, 0, len(tf.Versions))
	last := 0
	for _, v := range tf.Versions {
		if v.Version <= last {
			return fmt.Errorf("template %q: version %d must be greater than %d", tf.ID, v.Version, last)
		}
		last = v.Version
		intent := strings.TrimSpace(v.SystemIntent)
		instruction := strings.TrimSpace(v.AnalysisInstruction)
		if intent == "" || instruction == "" {
			return fmt.Errorf("template %q version %d: system_intent and analysis_instruction are required", tf.ID, v.Version)
		}
		contract, err := schema.LookupRevision(tf.Contract, v.ContractRevision)
		if err != nil {
			return fmt.Errorf("template %q version %d: %w", tf.ID, v.Version, err)
		}
		versions = append(versions, Template{
			ID:                      tf.ID,
			Name:                    tf.Name,
			Version:                 v.Version,
			Contract:                contract.ID,
			ContractRevision:        contract.Revision,
			SystemIntent:            intent,
			AnalysisInstruction:     instruction,
			OutputSchemaDescription: contract.Describe(),
		})
	}
	c.byID[tf.ID] = versions
	return nil
}

// Get returns the latest version of the template with the given id.
func (c *Catalog) Get(id string) (Template, error) {
	versions, ok := c.byID[id]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return versions[len(versions)-1], nil
}

// GetVersion returns an exact published version of a template.
func (c *Catalog) GetVersion(id string, version int) (Template, error) {
	for _, t := range c.byID[id] {
		if t.Version == version {
			return t, nil
		}
	}
	return Template{}, fmt.Errorf("%w: %q version %d", ErrNotFound, id, version)
}

// Versions lists the published version numbers of a template.
func (c *Catalog) Versions(id string) []int {
	var out []int
	for _, t := range c.byID[id] {
		out = append(out, t.Version)
	}
	return out
}

// List returns the latest version of every template, sorted by id.
func (c *Catalog) List() []Template {
	out := make([]Template, 0, len(c.byID))
	for _, versions := range c.byID {
		out = append(out, versions[len(versions)-1])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
