// Package rank orders files by structural importance. It builds a file-level
// dependency graph from parsed call and import facts and applies PageRank,
// so batch annotation can start with the files the rest of the codebase
// leans on most.
package rank

import (
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/phobologic/docweave/internal/model"
)

// Edge is one file-to-file dependency with the symbols that induced it.
type Edge struct {
	Source  string
	Target  string
	Symbols []string
}

// RankedFile is a file with its computed importance score.
type RankedFile struct {
	Path      string
	Language  string
	Score     float64
	Functions int
}

// BuildEdges creates dependency edges between files: an edge runs from a
// file to every other file defining a function it calls, or whose module
// stem it imports. Edges are deduplicated per symbol and sorted.
func BuildEdges(modules []model.ParsedModule) []Edge {
	defines := make(map[string]map[string]struct{})
	addDef := func(name, path string) {
		if name == "" {
			return
		}
		if defines[name] == nil {
			defines[name] = make(map[string]struct{})
		}
		defines[name][path] = struct{}{}
	}
	for i := range modules {
		m := &modules[i]
		addDef(moduleStem(m.Path), m.Path)
		for j := range m.Functions {
			fn := &m.Functions[j]
			addDef(fn.Name, m.Path)
			if fn.Parent != "" {
				addDef(fn.Parent+"."+fn.Name, m.Path)
			}
		}
		for _, typ := range m.Types {
			addDef(typ, m.Path)
		}
	}

	type edgeKey struct{ src, tgt string }
	edgeSymbols := make(map[edgeKey][]string)
	addRef := func(src, name string) {
		for _, tgt := range sortedKeys(defines[name]) {
			if tgt == src {
				continue // no self-edges
			}
			key := edgeKey{src, tgt}
			if !contains(edgeSymbols[key], name) {
				edgeSymbols[key] = append(edgeSymbols[key], name)
			}
		}
	}
	for i := range modules {
		m := &modules[i]
		for _, imp := range m.Imports {
			addRef(m.Path, imp)
		}
		for j := range m.Functions {
			for _, call := range m.Functions[j].Calls {
				addRef(m.Path, call)
				if dot := strings.LastIndexByte(call, '.'); dot != -1 {
					addRef(m.Path, call[dot+1:])
				}
			}
		}
	}

	edges := make([]Edge, 0, len(edgeSymbols))
	for key, syms := range edgeSymbols {
		sort.Strings(syms)
		edges = append(edges, Edge{Source: key.src, Target: key.tgt, Symbols: syms})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
	return edges
}

// Order scores every module and returns them most-important first. With no
// edges at all, every file gets the uniform score.
func Order(modules []model.ParsedModule) []RankedFile {
	ranked := make([]RankedFile, 0, len(modules))
	for i := range modules {
		ranked = append(ranked, RankedFile{
			Path:      modules[i].Path,
			Language:  modules[i].Language,
			Functions: len(modules[i].Functions),
		})
	}
	if len(ranked) == 0 {
		return ranked
	}

	edges := BuildEdges(modules)
	if len(edges) == 0 {
		uniform := 1.0 / float64(len(ranked))
		for i := range ranked {
			ranked[i].Score = uniform
		}
		sort.Slice(ranked, func(i, j int) bool { return ranked[i].Path < ranked[j].Path })
		return ranked
	}

	nodes := make(map[string]struct{}, len(ranked))
	for i := range ranked {
		nodes[ranked[i].Path] = struct{}{}
	}

	// Every symbol on an edge counts as its own link.
	outEdges := make(map[string][]string)
	outDegree := make(map[string]int)
	for _, e := range edges {
		for range e.Symbols {
			outEdges[e.Source] = append(outEdges[e.Source], e.Target)
			outDegree[e.Source]++
		}
	}

	scores := pageRank(nodes, outEdges, outDegree, 0.85, 100, 1e-6)
	for i := range ranked {
		ranked[i].Score = scores[ranked[i].Path]
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Path < ranked[j].Path
	})
	return ranked
}

// moduleStem is the importable name of a file: its base name without the
// extension.
func moduleStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func pageRank(
	nodes map[string]struct{},
	outEdges map[string][]string,
	outDegree map[string]int,
	alpha float64,
	maxIter int,
	tol float64,
) map[string]float64 {
	n := len(nodes)
	if n == 0 {
		return nil
	}

	rank := make(map[string]float64, n)
	initial := 1.0 / float64(n)
	for node := range nodes {
		rank[node] = initial
	}

	teleport := (1.0 - alpha) / float64(n)

	for iter := 0; iter < maxIter; iter++ {
		newRank := make(map[string]float64, n)

		var danglingSum float64
		for node := range nodes {
			if outDegree[node] == 0 {
				danglingSum += rank[node]
			}
		}
		danglingContrib := alpha * danglingSum / float64(n)

		for node := range nodes {
			newRank[node] = teleport + danglingContrib
		}

		for src, targets := range outEdges {
			deg := float64(outDegree[src])
			contrib := alpha * rank[src] / deg
			for _, tgt := range targets {
				newRank[tgt] += contrib
			}
		}

		var diff float64
		for node := range nodes {
			diff += math.Abs(newRank[node] - rank[node])
		}

		rank = newRank

		if diff < tol {
			break
		}
	}

	return rank
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
