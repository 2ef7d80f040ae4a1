// Package pipeline runs the registered loaders in dependency order.
//
// A run is best effort: a step that fails is logged and reported, and the
// next step still runs against whatever state the ERP is in. Cancelling the
// run context stops the pipeline between steps; a running loader is never
// interrupted mid-row.
package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/provision/internal/core"
)

// Plan orders defs so that every step runs after the steps it depends on.
// Steps with no ordering constraint between them keep the order of defs.
// When only is non-empty the plan is limited to those steps, in dependency
// order, without pulling in what they depend on.
func Plan(defs []core.StepDefinition, only []string) ([]core.StepDefinition, error) {
	byName := make(map[string]core.StepDefinition, len(defs))
	position := make(map[string]int, len(defs))
	for i, d := range defs {
		byName[d.Info.Name] = d
		position[d.Info.Name] = i
	}

	indegree := make(map[string]int, len(defs))
	dependents := make(map[string][]string, len(defs))
	for _, d := range defs {
		for _, dep := range d.Info.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("step %s depends on unknown step %s", d.Info.Name, dep)
			}
			indegree[d.Info.Name]++
			dependents[dep] = append(dependents[dep], d.Info.Name)
		}
	}

	var ready []string
	for _, d := range defs {
		if indegree[d.Info.Name] == 0 {
			ready = append(ready, d.Info.Name)
		}
	}

	ordered := make([]core.StepDefinition, 0, len(defs))
	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool { return position[ready[i]] < position[ready[j]] })
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byName[name])
		for _, next := range dependents[name] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(ordered) != len(defs) {
		var stuck []string
		for _, d := range defs {
			if indegree[d.Info.Name] > 0 {
				stuck = append(stuck, d.Info.Name)
			}
		}
		return nil, fmt.Errorf("dependency cycle between steps: %s", strings.Join(stuck, ", "))
	}

	if len(only) == 0 {
		return ordered, nil
	}

	selected := make(map[string]bool, len(only))
	for _, name := range only {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("unknown step %q (available: %s)", name, strings.Join(names(defs), ", "))
		}
		selected[name] = true
	}

	subset := ordered[:0:0]
	for _, d := range ordered {
		if selected[d.Info.Name] {
			subset = append(subset, d)
		}
	}
	return subset, nil
}

func names(defs []core.StepDefinition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Info.Name
	}
	return out
}
