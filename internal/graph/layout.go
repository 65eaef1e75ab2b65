// Package graph provides the two positioning algorithms for the design
// canvas. Both are pure functions of adjacency; they never read node
// semantics and have no effect on traversal.
package graph

import (
	"log/slog"

	"github.com/voxflow/voxflow/internal/models"
)

// Default spacing for the first-build BFS layout.
const (
	// DefaultNodeSpacing separates sibling nodes on one level.
	DefaultNodeSpacing = 220.0
	// DefaultLevelSpacing separates consecutive levels.
	DefaultLevelSpacing = 160.0
)

// Orientation selects how Rearrange stacks levels.
type Orientation string

const (
	// OrientationVertical stacks levels top to bottom.
	OrientationVertical Orientation = "vertical"
	// OrientationHorizontal stacks levels left to right.
	OrientationHorizontal Orientation = "horizontal"
)

// LayoutOptions configures the Rearrange algorithm.
type LayoutOptions struct {
	Orientation  Orientation `json:"orientation,omitempty"`
	LevelSpacing float64     `json:"level_spacing,omitempty"`
	NodeSpacing  float64     `json:"node_spacing,omitempty"`
}

// InitialLayout assigns positions for a freshly built graph: BFS from the
// Start node over forward adjacency gives each reachable node a level equal
// to its shortest hop distance. Nodes sharing a level are spread evenly on
// the X axis, centered around zero; levels advance down the Y axis.
// Unreachable nodes keep their prior positions. Re-running on an unchanged
// graph yields identical positions.
func InitialLayout(g *models.FlowGraph) map[string]models.Position {
	positions := make(map[string]models.Position, len(g.Nodes))
	for i := range g.Nodes {
		positions[g.Nodes[i].ID] = g.Nodes[i].Position
	}

	start := g.StartNode()
	if start == nil {
		slog.Debug("graph.InitialLayout: no start node, keeping prior positions", "flow", g.ID)
		return positions
	}

	levels := bfsLevels(g, start.ID)
	placeLevels(levels, positions, LayoutOptions{
		Orientation:  OrientationVertical,
		LevelSpacing: DefaultLevelSpacing,
		NodeSpacing:  DefaultNodeSpacing,
	})
	return positions
}

// Rearrange computes target positions for the user-triggered "tidy" action:
// a hierarchical per-level layout in the requested orientation with
// configurable spacing. The caller animates from the old positions to the
// returned targets (see Animator).
func Rearrange(g *models.FlowGraph, opts LayoutOptions) map[string]models.Position {
	if opts.Orientation == "" {
		opts.Orientation = OrientationVertical
	}
	if opts.LevelSpacing <= 0 {
		opts.LevelSpacing = DefaultLevelSpacing
	}
	if opts.NodeSpacing <= 0 {
		opts.NodeSpacing = DefaultNodeSpacing
	}

	positions := make(map[string]models.Position, len(g.Nodes))
	for i := range g.Nodes {
		positions[g.Nodes[i].ID] = g.Nodes[i].Position
	}

	start := g.StartNode()
	if start == nil {
		return positions
	}

	levels := bfsLevels(g, start.ID)
	placeLevels(levels, positions, opts)
	return positions
}

// bfsLevels returns the reachable nodes grouped by shortest hop distance
// from the given root, each level in discovery order. Cycle-safe: a node is
// assigned exactly one level.
func bfsLevels(g *models.FlowGraph, rootID string) [][]string {
	adjacency := make(map[string][]string)
	for _, e := range g.Edges {
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
	}

	visited := map[string]bool{rootID: true}
	var levels [][]string
	frontier := []string{rootID}
	for len(frontier) > 0 {
		levels = append(levels, frontier)
		var next []string
		for _, id := range frontier {
			for _, target := range adjacency[id] {
				if visited[target] {
					continue
				}
				visited[target] = true
				next = append(next, target)
			}
		}
		frontier = next
	}
	return levels
}

// placeLevels spreads each level's nodes evenly on the cross axis, centered,
// and advances the main axis by the level spacing.
func placeLevels(levels [][]string, positions map[string]models.Position, opts LayoutOptions) {
	for depth, level := range levels {
		span := float64(len(level)-1) * opts.NodeSpacing
		for i, id := range level {
			cross := float64(i)*opts.NodeSpacing - span/2
			main := float64(depth) * opts.LevelSpacing
			if opts.Orientation == OrientationHorizontal {
				positions[id] = models.Position{X: main, Y: cross}
			} else {
				positions[id] = models.Position{X: cross, Y: main}
			}
		}
	}
}
