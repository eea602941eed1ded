// Package graph builds and validates the stage graph of a pipeline run
package graph

import (
	"fmt"

	"github.com/poltergeist/matrixgen/pkg/types"
)

// Stage groups jobs that the executor schedules together
type Stage struct {
	Name      string
	DependsOn []string
	Condition types.Condition
	Jobs      []string
}

// StageGraph holds the jobs, their explicit dependency edges, and the
// stages that group them. It is sealed once built and must not change.
type StageGraph struct {
	stages     []*Stage
	stageIndex map[string]*Stage
	jobs       map[string]*types.GeneratedJob
	jobOrder   []string
	stageOf    map[string]string
	sealed     bool
}

// New creates an empty graph
func New() *StageGraph {
	return &StageGraph{
		stageIndex: make(map[string]*Stage),
		jobs:       make(map[string]*types.GeneratedJob),
		stageOf:    make(map[string]string),
	}
}

// AddStage appends a stage
func (g *StageGraph) AddStage(name string, dependsOn []string, condition types.Condition) error {
	if g.sealed {
		return fmt.Errorf("graph is sealed")
	}
	if _, exists := g.stageIndex[name]; exists {
		return types.NewConfigError("", "stages", "stage %q defined twice", name)
	}
	s := &Stage{Name: name, DependsOn: dependsOn, Condition: condition}
	g.stages = append(g.stages, s)
	g.stageIndex[name] = s
	return nil
}

// AddJob places a job on a stage. Job names are unique across the graph.
func (g *StageGraph) AddJob(stage string, job types.GeneratedJob) error {
	if g.sealed {
		return fmt.Errorf("graph is sealed")
	}
	s, ok := g.stageIndex[stage]
	if !ok {
		return fmt.Errorf("unknown stage %q", stage)
	}
	if _, exists := g.jobs[job.Name]; exists {
		return types.NewConfigError(job.Config, "name", "job name %q collides with job on stage %s", job.Name, g.stageOf[job.Name])
	}

	j := job
	g.jobs[j.Name] = &j
	g.jobOrder = append(g.jobOrder, j.Name)
	g.stageOf[j.Name] = stage
	s.Jobs = append(s.Jobs, j.Name)
	return nil
}

func (g *StageGraph) seal() {
	g.sealed = true
}

// Stages returns the stages in insertion order
func (g *StageGraph) Stages() []Stage {
	out := make([]Stage, len(g.stages))
	for i, s := range g.stages {
		out[i] = Stage{
			Name:      s.Name,
			DependsOn: append([]string(nil), s.DependsOn...),
			Condition: s.Condition,
			Jobs:      append([]string(nil), s.Jobs...),
		}
	}
	return out
}

// Jobs returns every job in insertion order
func (g *StageGraph) Jobs() []types.GeneratedJob {
	out := make([]types.GeneratedJob, len(g.jobOrder))
	for i, name := range g.jobOrder {
		out[i] = *g.jobs[name]
	}
	return out
}

// Job looks up a job by name
func (g *StageGraph) Job(name string) (types.GeneratedJob, bool) {
	j, ok := g.jobs[name]
	if !ok {
		return types.GeneratedJob{}, false
	}
	return *j, true
}

// StageOf returns the stage holding a job
func (g *StageGraph) StageOf(job string) string {
	return g.stageOf[job]
}

// Len returns the number of jobs
func (g *StageGraph) Len() int {
	return len(g.jobOrder)
}

// Validate checks that every dependency resolves, that neither the job
// edges nor the stage edges contain a cycle, and that a job depending on a
// job of another stage sits on a stage downstream of it.
func (g *StageGraph) Validate() error {
	jobEdges := make(map[string][]string, len(g.jobOrder))
	for _, name := range g.jobOrder {
		jobEdges[name] = g.jobs[name].DependsOn
	}
	if _, err := topologicalSort("job", g.jobOrder, jobEdges); err != nil {
		return err
	}

	stageNames := make([]string, len(g.stages))
	stageEdges := make(map[string][]string, len(g.stages))
	for i, s := range g.stages {
		stageNames[i] = s.Name
		stageEdges[s.Name] = s.DependsOn
	}
	if _, err := topologicalSort("stage", stageNames, stageEdges); err != nil {
		return err
	}

	for _, name := range g.jobOrder {
		stage := g.stageOf[name]
		var upstream map[string]bool
		for _, dep := range g.jobs[name].DependsOn {
			depStage := g.stageOf[dep]
			if depStage == stage {
				continue
			}
			if upstream == nil {
				upstream = make(map[string]bool)
				for _, u := range g.Upstream(stage) {
					upstream[u] = true
				}
			}
			if !upstream[depStage] {
				return fmt.Errorf("job %s on stage %s depends on %s, but stage %s is not upstream", name, stage, dep, depStage)
			}
		}
	}
	return nil
}

// Upstream returns every stage reachable from stage through stage
// dependencies, in insertion order. The stage itself is not included.
func (g *StageGraph) Upstream(stage string) []string {
	seen := make(map[string]bool)
	var visit func(name string)
	visit = func(name string) {
		s, ok := g.stageIndex[name]
		if !ok {
			return
		}
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				seen[dep] = true
				visit(dep)
			}
		}
	}
	visit(stage)

	var out []string
	for _, s := range g.stages {
		if seen[s.Name] && s.Name != stage {
			out = append(out, s.Name)
		}
	}
	return out
}

// TopologicalOrder returns job names with every job after its
// dependencies. Ties keep insertion order.
func (g *StageGraph) TopologicalOrder() ([]string, error) {
	edges := make(map[string][]string, len(g.jobOrder))
	for _, name := range g.jobOrder {
		edges[name] = g.jobs[name].DependsOn
	}
	return topologicalSort("job", g.jobOrder, edges)
}

// topologicalSort runs Kahn's algorithm over nodes, where deps maps a node
// to the nodes it depends on. Ready nodes are emitted in insertion order.
func topologicalSort(kind string, nodes []string, deps map[string][]string) ([]string, error) {
	position := make(map[string]int, len(nodes))
	for i, n := range nodes {
		position[n] = i
	}

	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		for _, dep := range deps[n] {
			if _, ok := position[dep]; !ok {
				return nil, &types.DependencyCycleError{
					Nodes:   []string{n, dep},
					Message: fmt.Sprintf("%s depends on unknown %s", kind, kind),
				}
			}
			inDegree[n]++
			dependents[dep] = append(dependents[dep], n)
		}
	}

	ready := make([]bool, len(nodes))
	for i, n := range nodes {
		ready[i] = inDegree[n] == 0
	}

	result := make([]string, 0, len(nodes))
	done := make([]bool, len(nodes))
	for len(result) < len(nodes) {
		next := -1
		for i := range nodes {
			if ready[i] && !done[i] {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}

		done[next] = true
		n := nodes[next]
		result = append(result, n)
		for _, child := range dependents[n] {
			inDegree[child]--
			if inDegree[child] == 0 {
				ready[position[child]] = true
			}
		}
	}

	if len(result) != len(nodes) {
		var cyclic []string
		for i, n := range nodes {
			if !done[i] {
				cyclic = append(cyclic, n)
			}
		}
		return nil, &types.DependencyCycleError{
			Nodes:   cyclic,
			Message: fmt.Sprintf("%s graph has cycles", kind),
		}
	}
	return result, nil
}
