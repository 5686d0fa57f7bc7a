package template

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"text/template"
)

//go:embed templates/*.config.template
var builtin embed.FS

// ErrTemplateNotFound is returned when no source has a template for the manager
var ErrTemplateNotFound = errors.New("configuration template not found")

// Vars are the values available to a configuration template
type Vars struct {
	ClusterName string
	// ServerID is a stable positive id derived from the node id
	ServerID uint32
	// Flavor carries sizing details such as "ram" (MB) and "vcpus"
	Flavor map[string]int
}

// NewVars builds template values for one node
func NewVars(clusterName, nodeID string, flavor map[string]int) Vars {
	return Vars{
		ClusterName: clusterName,
		ServerID:    ServerID(nodeID),
		Flavor:      flavor,
	}
}

// ServerID returns a positive 31-bit id for a node id
func ServerID(nodeID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(nodeID))
	return h.Sum32() % (1 << 31)
}

// Renderer produces the base configuration document of a datastore manager
type Renderer interface {
	Render(manager string, vars Vars) (Document, error)
}

// FileRenderer renders "<manager>.config.template" from the first source
// that has it
type FileRenderer struct {
	sources []fs.FS
}

// NewFileRenderer creates a renderer. Templates in dir, when set, take
// precedence over the built-in ones.
func NewFileRenderer(dir string) (*FileRenderer, error) {
	embedded, err := fs.Sub(builtin, "templates")
	if err != nil {
		return nil, fmt.Errorf("failed to open built-in templates: %w", err)
	}

	r := &FileRenderer{}
	if dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open template dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("template dir %s is not a directory", dir)
		}
		r.sources = append(r.sources, os.DirFS(dir))
	}
	r.sources = append(r.sources, embedded)
	return r, nil
}

func (r *FileRenderer) load(manager string) (string, error) {
	name := manager + ".config.template"
	for _, src := range r.sources {
		data, err := fs.ReadFile(src, name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", name, err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("%s: %w", name, ErrTemplateNotFound)
}

// Render renders and parses the manager's template
func (r *FileRenderer) Render(manager string, vars Vars) (Document, error) {
	text, err := r.load(manager)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New(manager).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s template: %w", manager, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return nil, fmt.Errorf("failed to render %s template: %w", manager, err)
	}

	return ParseDocument(buf.Bytes())
}
