package mailer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/osteele/liquid"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Renderer substitutes {{var}} tokens in subjects and bodies using Liquid.
// Unknown variables render as empty strings.
type Renderer struct {
	engine *liquid.Engine
}

func NewRenderer() *Renderer {
	engine := liquid.NewEngine()
	// {{ first_name | default: "there" }}
	engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" {
			return fallback
		}
		return value
	})
	return &Renderer{engine: engine}
}

// Render evaluates src against vars. When src is not valid Liquid (stray
// "{%" in hand-written HTML is common) it falls back to plain token
// replacement so the email still goes out.
func (r *Renderer) Render(src string, vars map[string]string) (string, error) {
	if !strings.Contains(src, "{{") && !strings.Contains(src, "{%") {
		return src, nil
	}

	bindings := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		bindings[k] = v
	}

	out, err := r.engine.ParseAndRenderString(src, bindings)
	if err != nil {
		return replaceTokens(src, vars), fmt.Errorf("liquid render: %w", err)
	}
	return out, nil
}

func replaceTokens(src string, vars map[string]string) string {
	return tokenPattern.ReplaceAllStringFunc(src, func(tok string) string {
		name := tokenPattern.FindStringSubmatch(tok)[1]
		return vars[name]
	})
}
