package graph

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/voxflow/voxflow/internal/models"
)

func TestInitialLayoutAssignsLevels(t *testing.T) {
	g := validGraph()
	positions := InitialLayout(&g)

	// Hop distance from start maps to the Y axis.
	wantLevels := map[string]float64{
		"start":  0,
		"msg":    1,
		"listen": 2,
		"branch": 3,
		"a":      4,
		"b":      4,
		"end":    5,
	}
	for id, level := range wantLevels {
		p, ok := positions[id]
		if !ok {
			t.Fatalf("no position for %s", id)
		}
		if want := level * DefaultLevelSpacing; p.Y != want {
			t.Errorf("%s: Y = %v, want %v", id, p.Y, want)
		}
	}

	// Siblings a and b share a level, spread evenly and centered.
	if positions["a"].X != -DefaultNodeSpacing/2 || positions["b"].X != DefaultNodeSpacing/2 {
		t.Errorf("siblings not centered: a.X=%v b.X=%v", positions["a"].X, positions["b"].X)
	}
	// Single-node levels sit on the axis.
	if positions["start"].X != 0 {
		t.Errorf("start.X = %v, want 0", positions["start"].X)
	}
}

func TestInitialLayoutDeterministic(t *testing.T) {
	g := validGraph()
	first := InitialLayout(&g)
	second := InitialLayout(&g)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("layout not deterministic:\nfirst  %v\nsecond %v", first, second)
	}
}

func TestInitialLayoutKeepsUnreachablePositions(t *testing.T) {
	g := validGraph()
	g.Nodes = append(g.Nodes, models.FlowNode{
		ID: "island", Type: models.NodeTypeMessage, Label: "Island",
		Position: models.Position{X: 999, Y: -42},
	})
	positions := InitialLayout(&g)
	if positions["island"] != (models.Position{X: 999, Y: -42}) {
		t.Errorf("unreachable node moved: %+v", positions["island"])
	}
}

func TestInitialLayoutCycleSafe(t *testing.T) {
	g := validGraph()
	// a -> msg closes a cycle; layout must still terminate.
	g.Edges = append(g.Edges, models.FlowEdge{ID: "loop", Source: "a", Target: "msg"})
	done := make(chan struct{})
	go func() {
		InitialLayout(&g)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("InitialLayout did not terminate on a cyclic graph")
	}
}

func TestInitialLayoutNoStart(t *testing.T) {
	g := validGraph()
	g.Nodes[0].Type = models.NodeTypeMessage
	g.Nodes[0].Position = models.Position{X: 7, Y: 7}
	positions := InitialLayout(&g)
	if positions["start"] != (models.Position{X: 7, Y: 7}) {
		t.Errorf("positions should be untouched without a Start node, got %+v", positions["start"])
	}
}

func TestRearrangeHorizontal(t *testing.T) {
	g := validGraph()
	positions := Rearrange(&g, LayoutOptions{
		Orientation:  OrientationHorizontal,
		LevelSpacing: 100,
		NodeSpacing:  50,
	})
	// Levels advance on X in horizontal orientation.
	if positions["start"].X != 0 || positions["msg"].X != 100 {
		t.Errorf("levels should advance on X: start=%+v msg=%+v", positions["start"], positions["msg"])
	}
	if positions["a"].Y != -25 || positions["b"].Y != 25 {
		t.Errorf("siblings should spread on Y: a=%+v b=%+v", positions["a"], positions["b"])
	}
}

func TestRearrangeDefaults(t *testing.T) {
	g := validGraph()
	got := Rearrange(&g, LayoutOptions{})
	want := InitialLayout(&g)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Rearrange with defaults should match the initial layout")
	}
}

func TestAnimatorCommitsExactTargets(t *testing.T) {
	from := map[string]models.Position{"n": {X: 0, Y: 0}}
	to := map[string]models.Position{"n": {X: 300, Y: 100}}

	var mu sync.Mutex
	var frames []map[string]models.Position
	a := NewAnimatorWithTiming(30*time.Millisecond, 5*time.Millisecond)
	a.Animate(from, to, func(frame map[string]models.Position) {
		mu.Lock()
		frames = append(frames, frame)
		mu.Unlock()
	})

	if len(frames) == 0 {
		t.Fatal("no frames produced")
	}
	last := frames[len(frames)-1]["n"]
	if last != to["n"] {
		t.Errorf("final frame must commit exact targets, got %+v", last)
	}
	// Intermediate frames stay within the segment.
	for _, f := range frames[:len(frames)-1] {
		p := f["n"]
		if p.X < 0 || p.X > 300 || p.Y < 0 || p.Y > 100 {
			t.Errorf("interpolated frame out of range: %+v", p)
		}
	}
}

func TestEaseOutBounds(t *testing.T) {
	if easeOut(0) != 0 || easeOut(1) != 1 {
		t.Error("easeOut must pin its endpoints")
	}
	if easeOut(0.5) <= 0.5 {
		t.Error("ease-out should front-load progress")
	}
	if easeOut(-1) != 0 || easeOut(2) != 1 {
		t.Error("easeOut must clamp out-of-range input")
	}
}
