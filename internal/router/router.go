// Package router classifies an inbound AnthropicRequest into a route
// category and resolves it to a logical model name The
// Router is pure with respect to its RouterConfig — no I/O, deterministic.
package router

import (
	"regexp"
	"strings"

	"github.com/ccrouter/ccrouter/internal/config"
	"github.com/ccrouter/ccrouter/internal/rerr"
	"github.com/ccrouter/ccrouter/internal/wire"
)

// Category is one of the six route categories defines.
type Category int

const (
	CategoryWebSearch Category = iota
	CategorySubagent
	CategoryThink
	CategoryBackground
	CategoryDefault
	CategoryPassthrough
)

func (c Category) String() string {
	switch c {
	case CategoryWebSearch:
		return "websearch"
	case CategorySubagent:
		return "subagent"
	case CategoryThink:
		return "think"
	case CategoryBackground:
		return "background"
	case CategoryDefault:
		return "default"
	case CategoryPassthrough:
		return "passthrough"
	default:
		return "unknown"
	}
}

// Decision is the result of classifying one request.
type Decision struct {
	Category     Category
	LogicalModel string
	OriginalModel string
}

// subagentMarker matches <CCM-SUBAGENT-MODEL>NAME</CCM-SUBAGENT-MODEL>,
// capturing NAME. Confined to the system prompt resolution
// of the marker-scope ambiguity (see DESIGN.md decision 2).
var subagentMarker = regexp.MustCompile(`<CCM-SUBAGENT-MODEL>([^<]+)</CCM-SUBAGENT-MODEL>`)

// Router is a compiled, immutable RouterConfig ready to classify requests.
// A reload builds a fresh Router instance rather than mutating this one
// — Router itself performs no I/O and holds no mutable state
// beyond the two compiled regexes.
type Router struct {
	cfg             config.RouterConfig
	backgroundRegex *regexp.Regexp
	autoMapRegex    *regexp.Regexp
}

// New compiles cfg into a Router. A malformed regex is a build-time error so
// a reload can reject it and keep the previous snapshot.
func New(cfg config.RouterConfig) (*Router, error) {
	r := &Router{cfg: cfg}

	bgPattern := cfg.BackgroundRegex
	if bgPattern == "" {
		bgPattern = config.DefaultBackgroundRegex
	}
	re, err := regexp.Compile(bgPattern)
	if err != nil {
		return nil, rerr.NoRoute("invalid background_regex: " + err.Error())
	}
	r.backgroundRegex = re

	if cfg.AutoMapRegex != "" {
		re, err := regexp.Compile(cfg.AutoMapRegex)
		if err != nil {
			return nil, rerr.NoRoute("invalid auto_map_regex: " + err.Error())
		}
		r.autoMapRegex = re
	}

	return r, nil
}

// Route classifies req and, unless the category is Passthrough, rewrites
// req.Model in place to the chosen logical model name. The original model
// name is preserved on the returned Decision for observability.
func (r *Router) Route(req *wire.Request) (Decision, error) {
	original := req.Model

	if r.autoMapRegex != nil && r.autoMapRegex.MatchString(original) {
		return Decision{Category: CategoryPassthrough, LogicalModel: original, OriginalModel: original}, nil
	}

	category, logical, err := r.classify(req)
	if err != nil {
		return Decision{}, err
	}

	req.Model = logical
	return Decision{Category: category, LogicalModel: logical, OriginalModel: original}, nil
}

// classify implements the priority-ordered rule list:
// WebSearch > Subagent > Think > Background > Default. The router never
// fails on a malformed request — ill-typed fields simply don't match and
// cascade to Default; it only fails when the chosen slot is unset.
func (r *Router) classify(req *wire.Request) (Category, string, error) {
	if hasWebSearchTool(req.Tools) {
		return slot(CategoryWebSearch, r.cfg.WebSearch)
	}

	if name, ok := extractSubagentMarker(req.System); ok {
		return CategorySubagent, name, nil
	}

	if req.Thinking != nil && req.Thinking.Type == "enabled" {
		return slot(CategoryThink, r.cfg.Think)
	}

	if r.backgroundRegex.MatchString(req.Model) {
		return slot(CategoryBackground, r.cfg.Background)
	}

	return slot(CategoryDefault, r.cfg.Default)
}

func slot(cat Category, logical string) (Category, string, error) {
	if logical == "" {
		return cat, "", rerr.NoRoute("no router slot configured for category " + cat.String())
	}
	return cat, logical, nil
}

// hasWebSearchTool reports whether tools contains an entry whose type
// begins with "web_search" (covering dated variants like
// "web_search_2025_04") or whose name equals "web_search"
// rule 1.
func hasWebSearchTool(tools []wire.Tool) bool {
	for _, t := range tools {
		if strings.HasPrefix(t.Type, "web_search") || t.Name == "web_search" {
			return true
		}
	}
	return false
}

// extractSubagentMarker scans the concatenated system prompt for the
// subagent marker and, if found, strips it from sys in place.
func extractSubagentMarker(sys *wire.SystemField) (string, bool) {
	if sys == nil {
		return "", false
	}
	text := sys.ConcatText()
	match := subagentMarker.FindStringSubmatchIndex(text)
	if match == nil {
		return "", false
	}
	name := text[match[2]:match[3]]
	stripped := text[:match[0]] + text[match[1]:]

	if sys.Blocks != nil {
		stripMarkerFromBlocks(sys)
	} else {
		sys.Text = stripped
	}

	return name, true
}

// stripMarkerFromBlocks removes the marker from whichever SystemBlock
// contains it, preserving the other blocks (and their cache_control)
// untouched.
func stripMarkerFromBlocks(sys *wire.SystemField) {
	for i := range sys.Blocks {
		if loc := subagentMarker.FindStringIndex(sys.Blocks[i].Text); loc != nil {
			sys.Blocks[i].Text = sys.Blocks[i].Text[:loc[0]] + sys.Blocks[i].Text[loc[1]:]
			return
		}
	}
}
