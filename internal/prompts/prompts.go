// Package prompts loads the embedded completion prompt templates.
// Each YAML file carries sampling parameters, template data and a pongo2 template.
package prompts

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var templateFS embed.FS

// Names of the bundled prompts.
const (
	Assessment = "assessment"
	Splitting  = "splitting"
	Codegen    = "codegen"
)

// Prompt is a parsed prompt definition.
type Prompt struct {
	Name        string         `yaml:"name"`
	MaxTokens   int            `yaml:"max_tokens"`
	Temperature float64        `yaml:"temperature"`
	Template    string         `yaml:"template"`
	Data        map[string]any `yaml:",inline"`

	tpl *pongo2.Template
}

var (
	cacheMu sync.Mutex
	cache   = map[string]*Prompt{}
)

// Load returns the named bundled prompt.
func Load(name string) (*Prompt, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if p, ok := cache[name]; ok {
		return p, nil
	}
	raw, err := templateFS.ReadFile("templates/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("prompts: unknown prompt %q: %w", name, err)
	}
	p, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("prompts: %s: %w", name, err)
	}
	cache[name] = p
	return p, nil
}

// MustLoad is Load for package initialisation of bundled prompts.
func MustLoad(name string) *Prompt {
	p, err := Load(name)
	if err != nil {
		panic(err)
	}
	return p
}

// Parse decodes a prompt definition and compiles its template.
func Parse(raw []byte) (*Prompt, error) {
	var p Prompt
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if strings.TrimSpace(p.Template) == "" {
		return nil, fmt.Errorf("template is empty")
	}
	tpl, err := pongo2.FromString(p.Template)
	if err != nil {
		return nil, fmt.Errorf("compile template: %w", err)
	}
	p.tpl = tpl
	return &p, nil
}

// Render executes the template with the prompt's data plus vars.
// vars win over data keys of the same name.
func (p *Prompt) Render(vars map[string]any) (string, error) {
	ctx := pongo2.Context{}
	for k, v := range p.Data {
		ctx[k] = v
	}
	for k, v := range vars {
		ctx[k] = v
	}
	out, err := p.tpl.Execute(ctx)
	if err != nil {
		return "", fmt.Errorf("prompts: render %s: %w", p.Name, err)
	}
	return strings.TrimSpace(out), nil
}
