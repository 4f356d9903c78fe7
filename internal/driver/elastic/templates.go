package elastic

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/clusterctl/internal/cluster"
)

//go:embed templates/*.yml
var embedded embed.FS

// ErrTemplateNotFound: no hay plantilla para la versión mayor del cluster.
var ErrTemplateNotFound = errors.New("elastic: configuration template not found")

// DefaultTemplates son las plantillas embebidas en el binario.
func DefaultTemplates() fs.FS {
	sub, _ := fs.Sub(embedded, "templates")
	return sub
}

// TemplatesDir usa un directorio en disco (templates_dir de la config).
func TemplatesDir(dir string) fs.FS { return os.DirFS(dir) }

// TemplateName devuelve el nombre de archivo para una versión mayor.
func TemplateName(major string) string { return "elasticsearch" + major + ".yml" }

// LoadTemplate lee y aplana la plantilla de la versión mayor.
func LoadTemplate(fsys fs.FS, major string) (cluster.ConfigDocument, error) {
	name := TemplateName(major)
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return nil, fmt.Errorf("elastic: read template %s: %w", name, err)
	}
	var nested map[string]any
	if err := yaml.Unmarshal(b, &nested); err != nil {
		return nil, fmt.Errorf("elastic: parse template %s: %w", name, err)
	}
	return cluster.Flatten(nested), nil
}
