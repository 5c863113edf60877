package templates

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/neurodesk/jinjapreview/pkg/datasource"
	"github.com/neurodesk/jinjapreview/pkg/jinja2"
	v "github.com/neurodesk/jinjapreview/pkg/validator"
	"gopkg.in/yaml.v3"
)

// Builtin is a named template shipped together with sample data.
type Builtin struct {
	Name        string                `yaml:"name"`
	Description string                `yaml:"description,omitempty"`
	Template    jinja2.TemplateString `yaml:"template"`
	Data        yaml.Node             `yaml:"data,omitempty"`
}

func (b Builtin) Validate() error {
	return v.All(
		v.NotEmpty(b.Name, "name"),
		v.HasNoJinja(b.Name, "name"),
		v.NotEmpty(string(b.Template), "template"),
		b.Template.Validate(),
		b.validateData(),
	)
}

func (b Builtin) validateData() error {
	if b.Data.Kind == 0 {
		return nil
	}
	if b.Data.Kind != yaml.MappingNode {
		return fmt.Errorf("data must be a mapping, line %d", b.Data.Line)
	}
	return nil
}

// Context returns the sample data as a render context. A builtin without
// data yields an empty context.
func (b Builtin) Context() (jinja2.Context, error) {
	if b.Data.Kind == 0 {
		return jinja2.Context{}, nil
	}
	val, err := datasource.FromYAMLNode(&b.Data)
	if err != nil {
		return nil, fmt.Errorf("template %q data: %w", b.Name, err)
	}
	d, ok := val.(*jinja2.DictValue)
	if !ok {
		return nil, fmt.Errorf("template %q data: must be a mapping", b.Name)
	}
	ctx := make(jinja2.Context, d.Len())
	for _, k := range d.Keys() {
		ctx[k], _ = d.Get(k)
	}
	return ctx, nil
}

// Render renders the template against its own sample data.
func (b Builtin) Render() (string, error) {
	ctx, err := b.Context()
	if err != nil {
		return "", err
	}
	return b.Template.Render(ctx), nil
}

//go:embed *.yaml
var Files embed.FS

var (
	mu          sync.RWMutex
	templateDir string
	builtins    = map[string]Builtin{}
)

// SetTemplateDir installs a directory whose <name>.yaml files take
// precedence over the embedded templates. An empty dir removes the override.
func SetTemplateDir(dir string) {
	mu.Lock()
	defer mu.Unlock()
	templateDir = dir
}

// Get returns the template called name, looking in the override directory
// before the embedded set.
func Get(name string) (Builtin, error) {
	mu.RLock()
	dir := templateDir
	mu.RUnlock()

	if dir != "" {
		b, err := loadFile(os.DirFS(dir), name+".yaml")
		switch {
		case err == nil:
			slog.Debug("using template override", "name", name, "dir", dir)
			return b, nil
		case !errors.Is(err, fs.ErrNotExist):
			return Builtin{}, err
		}
	}
	if b, ok := builtins[name]; ok {
		return b, nil
	}
	return Builtin{}, fmt.Errorf("template %q not found", name)
}

// Names lists every available template, overrides included, sorted.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}

	mu.RLock()
	dir := templateDir
	mu.RUnlock()
	if dir != "" {
		matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
		if err != nil {
			slog.Warn("listing template overrides", "dir", dir, "error", err)
		}
		for _, m := range matches {
			name := strings.TrimSuffix(filepath.Base(m), ".yaml")
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	slices.Sort(names)
	return names
}

func loadFile(fsys fs.FS, file string) (Builtin, error) {
	content, err := fs.ReadFile(fsys, file)
	if err != nil {
		return Builtin{}, err
	}
	var b Builtin
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		return Builtin{}, fmt.Errorf("failed to decode template %q: %w", file, err)
	}
	if err := b.Validate(); err != nil {
		return Builtin{}, fmt.Errorf("invalid template %q: %w", file, err)
	}
	return b, nil
}

func init() {
	entries, err := Files.ReadDir(".")
	if err != nil {
		panic(err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		b, err := loadFile(Files, entry.Name())
		if err != nil {
			panic(err)
		}
		builtins[strings.TrimSuffix(entry.Name(), ".yaml")] = b
	}
}
