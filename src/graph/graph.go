// Package graph computes node degrees of the user contact graph.
package graph

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"

	"gonum.org/v1/gonum/graph/simple"

	"geo-contacts/src/pipeline"
)

// Directed is a simple directed graph keyed by user identifier. Parallel edges collapse into
// one. Self-loops are tracked beside the gonum graph, which does not allow them.
type Directed struct {
	g     *simple.DirectedGraph
	ids   map[string]int64
	names []string
	loops map[int64]bool
}

// NewDirected returns an empty graph.
func NewDirected() *Directed {
	return &Directed{
		g:     simple.NewDirectedGraph(),
		ids:   make(map[string]int64),
		loops: make(map[int64]bool),
	}
}

func (d *Directed) node(name string) int64 {
	if id, ok := d.ids[name]; ok {
		return id
	}
	id := int64(len(d.names))
	d.ids[name] = id
	d.names = append(d.names, name)
	d.g.AddNode(simple.Node(id))
	return id
}

// AddEdge adds from -> to.
func (d *Directed) AddEdge(from, to string) {
	f, t := d.node(from), d.node(to)
	if f == t {
		d.loops[f] = true
		return
	}
	d.g.SetEdge(simple.Edge{F: simple.Node(f), T: simple.Node(t)})
}

// Nodes returns the number of nodes.
func (d *Directed) Nodes() int { return len(d.names) }

// Edges returns the number of distinct edges, self-loops included.
func (d *Directed) Edges() int { return d.g.Edges().Len() + len(d.loops) }

// ReadEdges adds every edge of src. Edge weights are ignored.
func (d *Directed) ReadEdges(ctx context.Context, src pipeline.EdgeSource) error {
	for {
		e, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		d.AddEdge(e.Source, e.Destination)
	}
}

// BuildDirected reads every edge of each source, in order, into one new graph.
func BuildDirected(ctx context.Context, sources ...pipeline.EdgeSource) (*Directed, error) {
	d := NewDirected()
	for _, src := range sources {
		if err := d.ReadEdges(ctx, src); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// NodeDegree is the degree of one node.
type NodeDegree struct {
	ID     string
	Degree int
}

// InDegrees returns the in-degree of every node in insertion order.
func (d *Directed) InDegrees() []NodeDegree {
	return d.degrees(true, false)
}

// OutDegrees returns the out-degree of every node in insertion order.
func (d *Directed) OutDegrees() []NodeDegree {
	return d.degrees(false, true)
}

// Degrees returns in plus out degree. A self-loop counts once in each direction.
func (d *Directed) Degrees() []NodeDegree {
	return d.degrees(true, true)
}

func (d *Directed) degrees(in, out bool) []NodeDegree {
	result := make([]NodeDegree, len(d.names))
	for i, name := range d.names {
		id := int64(i)
		n := 0
		if in {
			n += d.g.To(id).Len()
			if d.loops[id] {
				n++
			}
		}
		if out {
			n += d.g.From(id).Len()
			if d.loops[id] {
				n++
			}
		}
		result[i] = NodeDegree{ID: name, Degree: n}
	}
	return result
}

// WriteDegrees writes node,degree rows without a header.
func WriteDegrees(w io.Writer, degrees []NodeDegree) error {
	out := csv.NewWriter(w)
	for _, nd := range degrees {
		if err := out.Write([]string{nd.ID, strconv.Itoa(nd.Degree)}); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}
