package db

import "github.com/projecteru2/modwire/types"

// Sort reorders modules in place according to keys, applied in order (the
// first key is primary). BySortDependency is a topological sort over the
// current wiring graph — providers before requirers — grounded on the
// classic Kahn's-algorithm in-degree sort; BySortStartLevel is a stable
// ascending sort by assigned start level.
func (d *Database) Sort(modules []*types.Module, keys ...SortKey) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	d.SortLocked(modules, keys...)
}

// SortLocked is Sort for a caller that already holds the read or write
// lock — every Phase C commit path sorts its resolved/triggers batch while
// still holding the write lock, so it must not re-enter the mutex.
func (d *Database) SortLocked(modules []*types.Module, keys ...SortKey) {
	for i := len(keys) - 1; i >= 0; i-- {
		switch keys[i] {
		case BySortDependency:
			d.sortByDependencyLocked(modules)
		case BySortStartLevel:
			d.sortByStartLevelLocked(modules)
		}
	}
}

// GetSortedModules returns every module, sorted by keys.
func (d *Database) GetSortedModules(keys ...SortKey) []*types.Module {
	d.mu.RLock()
	defer d.mu.RUnlock()
	modules := d.GetModulesLocked()
	d.SortLocked(modules, keys...)
	return modules
}

// sortByStartLevelLocked is a stable ascending sort; ties keep their
// relative order, satisfying a following BySortDependency pass layered on
// top. Assumes the caller already holds the read or write lock.
func (d *Database) sortByStartLevelLocked(modules []*types.Module) {
	levels := make(map[types.ModuleID]int, len(modules))
	for _, m := range modules {
		levels[m.ID] = d.startLevels[m.ID]
	}

	stableSort(modules, func(a, b *types.Module) bool {
		return levels[a.ID] < levels[b.ID]
	})
}

// sortByDependencyLocked topologically sorts modules so that every provider
// of a required wire precedes its requirer. Modules outside the current
// wiring graph (unresolved, or not in the input slice) keep their relative
// order. A cycle — which a correct resolver should never produce — breaks
// the tie by falling back to input order for the remaining, unscheduled
// modules. Assumes the caller already holds the read or write lock.
func (d *Database) sortByDependencyLocked(modules []*types.Module) {
	index := make(map[types.ModuleID]int, len(modules))
	for i, m := range modules {
		index[m.ID] = i
	}

	// adjacency[i] lists the indices of modules that module i depends on
	// (its providers) among those also present in the input slice.
	adjacency := make([][]int, len(modules))
	inDegree := make([]int, len(modules))

	for i, m := range modules {
		rev := m.CurrentRevision()
		if rev == nil {
			continue
		}
		wiring := d.wirings[rev]
		if wiring == nil {
			continue
		}
		seen := make(map[int]struct{})
		for _, wire := range wiring.RequiredWires {
			if !wire.IsValid() || wire.ProviderRevision == nil {
				continue
			}
			provider := wire.ProviderRevision.Module()
			if provider == nil {
				continue
			}
			j, ok := index[provider.ID]
			if !ok || j == i {
				continue
			}
			if _, dup := seen[j]; dup {
				continue
			}
			seen[j] = struct{}{}
			adjacency[i] = append(adjacency[i], j)
			inDegree[i]++
		}
	}

	// Kahn's algorithm, seeded in original-index order so ties preserve
	// input order (a stable topological sort).
	queue := make([]int, 0, len(modules))
	remaining := append([]int(nil), inDegree...)
	for i := range modules {
		if remaining[i] == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]int, 0, len(modules))
	reverseAdjacency := make([][]int, len(modules))
	for i, deps := range adjacency {
		for _, j := range deps {
			reverseAdjacency[j] = append(reverseAdjacency[j], i)
		}
	}

	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		order = append(order, i)
		for _, dependent := range reverseAdjacency[i] {
			remaining[dependent]--
			if remaining[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(modules) {
		// Cycle: append whatever wasn't scheduled, in original order.
		scheduled := make(map[int]struct{}, len(order))
		for _, i := range order {
			scheduled[i] = struct{}{}
		}
		for i := range modules {
			if _, ok := scheduled[i]; !ok {
				order = append(order, i)
			}
		}
	}

	sorted := make([]*types.Module, len(modules))
	for pos, i := range order {
		sorted[pos] = modules[i]
	}
	copy(modules, sorted)
}

// stableSort is a tiny insertion sort wrapper kept dependency-free; module
// counts in a container are small enough that O(n^2) is fine and the
// algorithm's stability is easy to audit by inspection.
func stableSort(modules []*types.Module, less func(a, b *types.Module) bool) {
	for i := 1; i < len(modules); i++ {
		for j := i; j > 0 && less(modules[j], modules[j-1]); j-- {
			modules[j], modules[j-1] = modules[j-1], modules[j]
		}
	}
}
