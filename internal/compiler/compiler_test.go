package compiler

import (
	"strings"
	"testing"
	"time"

	"github.com/voxflow/voxflow/internal/models"
)

func pizzaGraph() models.FlowGraph {
	return models.FlowGraph{
		ID: "flow_pizza",
		Nodes: []models.FlowNode{
			{ID: "start", Type: models.NodeTypeStart, Label: "Start"},
			{ID: "greet", Type: models.NodeTypeMessage, Label: "Greeting", Content: "Welcome to Lina's Pizza!"},
			{ID: "listen", Type: models.NodeTypeListen, Label: "Take order", IntentHints: []string{"Margherita", "Pepperoni"}},
			{ID: "branch", Type: models.NodeTypeBranch, Label: "Which pizza"},
			{ID: "marg", Type: models.NodeTypeMessage, Label: "Margherita", Content: "One margherita coming up."},
			{ID: "pep", Type: models.NodeTypeMessage, Label: "Pepperoni", Content: "One pepperoni coming up."},
			{ID: "end", Type: models.NodeTypeEnd, Label: "Goodbye", ClosingLine: "Thanks for calling!"},
		},
		Edges: []models.FlowEdge{
			{ID: "e1", Source: "start", Target: "greet"},
			{ID: "e2", Source: "greet", Target: "listen"},
			{ID: "e3", Source: "listen", Target: "branch"},
			{ID: "e4", Source: "branch", Target: "marg", Label: "Margherita"},
			{ID: "e5", Source: "branch", Target: "pep", Label: "Pepperoni"},
			{ID: "e6", Source: "marg", Target: "end"},
			{ID: "e7", Source: "pep", Target: "end"},
		},
	}
}

func TestCompileRendersAllNodeTypes(t *testing.T) {
	g := pizzaGraph()
	script, err := Compile(&g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		`Say: "Welcome to Lina's Pizza!"`,
		"Stop talking and wait for the caller to speak",
		"Do not offer multiple options",
		"Margherita, Pepperoni",
		`If the detected choice is "Margherita", proceed to the instructions of node marg`,
		`If the detected choice is "Pepperoni", proceed to the instructions of node pep`,
		`Say: "Thanks for calling!" Then end the call.`,
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q\nscript:\n%s", want, script)
		}
	}

	// The closing rule block is always appended.
	if !strings.Contains(script, "Acknowledge what the caller said before proceeding") {
		t.Error("closing rules missing")
	}
}

func TestCompileEmitsMarkerDirective(t *testing.T) {
	g := pizzaGraph()
	script, err := Compile(&g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The directive in the script and the parser in the traversal engine
	// must agree on one grammar.
	if !strings.Contains(script, "[[NODE:") {
		t.Fatal("script does not instruct the agent to emit node markers")
	}
	example := models.NodeMarker("greet")
	if got := models.ExtractNodeMarker("prefix " + example + " suffix"); got != "greet" {
		t.Errorf("marker grammar mismatch: NodeMarker produced %q, extractor read %q", example, got)
	}
}

func TestCompileDeterministic(t *testing.T) {
	g := pizzaGraph()
	first, err := Compile(&g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Compile(&g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Error("compiling the same graph twice produced different scripts")
	}
}

func TestCompileCycleSafe(t *testing.T) {
	g := pizzaGraph()
	// marg -> greet closes a cycle. The validator permits cycles, so the
	// compiler must terminate on them.
	g.Edges = append(g.Edges, models.FlowEdge{ID: "loop", Source: "marg", Target: "greet"})

	done := make(chan error, 1)
	go func() {
		_, err := Compile(&g)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Compile did not terminate on a cyclic graph")
	}
}

func TestCompileSharedSuffixRenderedOnce(t *testing.T) {
	g := pizzaGraph()
	script, err := Compile(&g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := strings.Count(script, `Say: "Thanks for calling!"`); n != 1 {
		t.Errorf("end node rendered %d times, want 1", n)
	}
}

func TestCompileNoStart(t *testing.T) {
	g := pizzaGraph()
	g.Nodes[0].Type = models.NodeTypeMessage
	if _, err := Compile(&g); err == nil {
		t.Fatal("expected an error for a graph without a Start node")
	}
}

func TestCompileTransferNode(t *testing.T) {
	g := models.FlowGraph{
		ID: "flow_transfer",
		Nodes: []models.FlowNode{
			{ID: "start", Type: models.NodeTypeStart, Label: "Start"},
			{ID: "handoff", Type: models.NodeTypeTransfer, Label: "Human handoff", TransferNumber: "+15550199"},
		},
		Edges: []models.FlowEdge{{ID: "e1", Source: "start", Target: "handoff"}},
	}
	script, err := Compile(&g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(script, "Transfer the call to +15550199") {
		t.Errorf("transfer instruction missing:\n%s", script)
	}
}
