// Package viz renders the change graph of a namespace document, labelling
// each change with the value one key held at that point.
package viz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// Step is one change in a document's history.
type Step struct {
	Hash  string
	Actor string
	Seq   uint64
	Deps  []string
	// Value is the JSON encoding of the key at this change, "null" when
	// absent.
	Value string
}

// History lists the document's changes in causal order along with what key
// held after each of them.
func History(doc *automerge.Doc, key string) ([]Step, error) {
	changes, err := doc.Changes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate changes: %w", err)
	}
	out := make([]Step, 0, len(changes))
	for _, change := range changes {
		docAt, err := doc.Fork(change.Hash())
		if err != nil {
			return nil, fmt.Errorf("failed to checkout %s: %w", change.Hash(), err)
		}
		var raw interface{}
		if value, err := docAt.Path(key).Get(); err == nil {
			raw = value.Interface()
		}
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", change.Hash(), err)
		}
		step := Step{
			Hash:  change.Hash().String(),
			Actor: change.ActorID(),
			Seq:   uint64(change.ActorSeq()),
			Value: string(encoded),
		}
		for _, dep := range change.Dependencies() {
			step.Deps = append(step.Deps, dep.String())
		}
		out = append(out, step)
	}
	return out, nil
}

func Render(doc *automerge.Doc, key string, w io.Writer) error {
	steps, err := History(doc, key)
	if err != nil {
		return err
	}

	g := graphviz.New()
	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer func() {
		_ = graph.Close()
		_ = g.Close()
	}()

	nodeMap := make(map[string]*cgraph.Node)
	var edgeCounter int
	for _, step := range steps {
		n, err := graph.CreateNode(step.Hash)
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(fmt.Sprintf("%s %s@%d %s", step.Hash[:8], step.Actor, step.Seq, step.Value))
		nodeMap[step.Hash] = n

		for _, dep := range step.Deps {
			from, ok := nodeMap[dep]
			if !ok {
				continue
			}
			edgeCounter++
			if _, err := graph.CreateEdge(strconv.Itoa(edgeCounter), from, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	if err := g.Render(graph, graphviz.SVG, w); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	return nil
}

// RenderToFile writes the SVG for key to outputPath.
func RenderToFile(doc *automerge.Doc, key, outputPath string) error {
	var buff bytes.Buffer
	if err := Render(doc, key, &buff); err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, buff.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	return nil
}
