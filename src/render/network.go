package render

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"geo-contacts/src/pipeline"
)

// GraphConfig controls the location graph drawing.
type GraphConfig struct {
	// TopN keeps the heaviest edges; 0 keeps all.
	TopN int
	// Format is dot, svg, png or jpg.
	Format string
	// IncludeMissing keeps edges with a missing endpoint, drawn as Sentinel.
	IncludeMissing bool
	Sentinel       string
	// SelfLoops keeps edges whose endpoints are equal.
	SelfLoops bool
}

// TopEdges returns the entries of t selected by cfg, heaviest first by the first weight.
// Ties keep table order.
func TopEdges(t *pipeline.Table, cfg GraphConfig) []pipeline.Entry {
	var out []pipeline.Entry
	for _, e := range t.Entries() {
		if !cfg.IncludeMissing && !(e.Pair.Source.Known && e.Pair.Destination.Known) {
			continue
		}
		if !cfg.SelfLoops && e.Pair.Source == e.Pair.Destination {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weights[0] > out[j].Weights[0] })
	if cfg.TopN > 0 && len(out) > cfg.TopN {
		out = out[:cfg.TopN]
	}
	return out
}

// LocationGraph renders the selected edges of t through Graphviz, labelling each edge with
// its first weight.
func LocationGraph(w io.Writer, t *pipeline.Table, cfg GraphConfig) error {
	if cfg.Format == "" {
		cfg.Format = string(graphviz.XDOT)
	}
	g := graphviz.New()
	defer g.Close()
	gr, err := g.Graph()
	if err != nil {
		return fmt.Errorf("create graph: %w", err)
	}
	defer gr.Close()

	nodes := make(map[string]*cgraph.Node)
	node := func(name string) (*cgraph.Node, error) {
		if n, ok := nodes[name]; ok {
			return n, nil
		}
		n, err := gr.CreateNode(name)
		if err != nil {
			return nil, fmt.Errorf("create node %q: %w", name, err)
		}
		nodes[name] = n
		return n, nil
	}

	for i, e := range TopEdges(t, cfg) {
		from, err := node(e.Pair.Source.Text(cfg.Sentinel))
		if err != nil {
			return err
		}
		to, err := node(e.Pair.Destination.Text(cfg.Sentinel))
		if err != nil {
			return err
		}
		edge, err := gr.CreateEdge("e"+strconv.Itoa(i), from, to)
		if err != nil {
			return fmt.Errorf("create edge: %w", err)
		}
		edge.SetLabel(strconv.FormatInt(e.Weights[0], 10))
	}

	if err := g.Render(gr, graphviz.Format(cfg.Format), w); err != nil {
		return fmt.Errorf("render %s: %w", cfg.Format, err)
	}
	return nil
}
