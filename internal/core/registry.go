package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry   = make(map[string]StepDefinition)
	registryMu sync.RWMutex
)

// Register adds a step definition to the registry.
// Panics if a step with the same name is already registered.
func Register(def StepDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if def.Info.Name == "" || def.New == nil {
		panic("step definition needs a name and a factory")
	}
	if _, exists := registry[def.Info.Name]; exists {
		panic(fmt.Sprintf("step already registered: %s", def.Info.Name))
	}
	if def.Info.Label == "" {
		def.Info.Label = def.Info.Name
	}
	if def.Info.Weight <= 0 {
		def.Info.Weight = 1
	}

	registry[def.Info.Name] = def
}

// Get returns a step definition by name.
func Get(name string) (StepDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[name]
	return def, ok
}

// All returns all registered steps sorted by Order then Name.
func All() []StepDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]StepDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Info.Order != result[j].Info.Order {
			return result[i].Info.Order < result[j].Info.Order
		}
		return result[i].Info.Name < result[j].Info.Name
	})

	return result
}

// Names returns the registered step names in the order of All.
func Names() []string {
	defs := All()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Info.Name
	}
	return names
}

// Clear removes all registered steps.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]StepDefinition)
}
