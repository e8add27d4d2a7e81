package cwl

import (
	"strings"
	"testing"
)

func step(id string, sources ...string) Step {
	st := Step{ID: id, Run: id + ".cwl", Out: []string{"output"}}
	for i, s := range sources {
		st.In = append(st.In, StepInput{ID: "in" + string(rune('a'+i)), Sources: []string{s}})
	}
	return st
}

func TestBuildDAG_LinearPipeline(t *testing.T) {
	dag, err := BuildDAG([]Step{
		step("cat", "echo/output"),
		step("echo", "message"),
	})
	if err != nil {
		t.Fatalf("BuildDAG: %v", err)
	}
	if len(dag.Order) != 2 || dag.Order[0] != "echo" || dag.Order[1] != "cat" {
		t.Errorf("Order = %v, want [echo cat]", dag.Order)
	}
	if deps := dag.Edges["cat"]; len(deps) != 1 || deps[0] != "echo" {
		t.Errorf("cat deps = %v, want [echo]", deps)
	}
}

func TestBuildDAG_ParallelSteps(t *testing.T) {
	dag, err := BuildDAG([]Step{
		step("step_b", "wf_input"),
		step("step_a", "wf_input"),
		step("merge", "step_a/output", "step_b/output"),
	})
	if err != nil {
		t.Fatalf("BuildDAG: %v", err)
	}
	want := []string{"step_a", "step_b", "merge"}
	for i, id := range want {
		if dag.Order[i] != id {
			t.Fatalf("Order = %v, want %v", dag.Order, want)
		}
	}
	if len(dag.Edges["merge"]) != 2 {
		t.Errorf("merge deps = %v", dag.Edges["merge"])
	}
}

func TestBuildDAG_Cycle(t *testing.T) {
	_, err := BuildDAG([]Step{
		step("a", "b/output"),
		step("b", "a/output"),
	})
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}

	_, err = BuildDAG([]Step{step("self", "self/output")})
	if err == nil {
		t.Fatal("expected self-loop error")
	}
}
