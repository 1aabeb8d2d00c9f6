// Copyright (C) 2024 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package table

import "fmt"

// Policy decides which of the candidate paths of a destination are
// selected. Every policy puts the single best path first, so a peer that
// does not negotiate add-path still gets what classic BGP would pick.
type Policy interface {
	selectPaths(candidates []*pathState, c *Comparator, incumbent int) ([]*pathState, BestPathReason)
	String() string
}

// tournament returns the preferred candidate. With DeterministicMed the
// paths that MED can order against each other are reduced to one winner
// per group first, so the result does not depend on the visiting order.
func tournament(candidates []*pathState, c *Comparator, incumbent int) (*pathState, BestPathReason) {
	if c.opts.DeterministicMed && !c.opts.AlwaysCompareMed {
		if groups := groupByMED(candidates); len(groups) > 1 {
			winners := make([]*pathState, 0, len(groups))
			for _, g := range groups {
				w, _ := runTournament(g, c, incumbent)
				winners = append(winners, w)
			}
			return runTournament(winners, c, incumbent)
		}
	}
	return runTournament(candidates, c, incumbent)
}

// groupByMED splits candidates into the sets compareByMED applies to:
// one per neighbor AS and one for internal paths. A path with neither
// forms a group of its own. Groups keep the order of the candidates.
func groupByMED(candidates []*pathState) [][]*pathState {
	var groups [][]*pathState
	index := make(map[int64]int)
	for i, p := range candidates {
		var k int64
		switch {
		case p.internal:
			k = -1
		case p.neighborAS != 0:
			k = int64(p.neighborAS)
		default:
			k = -2 - int64(i)
		}
		if n, ok := index[k]; ok {
			groups[n] = append(groups[n], p)
			continue
		}
		index[k] = len(groups)
		groups = append(groups, []*pathState{p})
	}
	return groups
}

// runTournament visits the candidates in offset order, starting from the
// incumbent if it is still a candidate so that ties do not cause churn.
func runTournament(candidates []*pathState, c *Comparator, incumbent int) (*pathState, BestPathReason) {
	if len(candidates) == 0 {
		return nil, BPR_UNKNOWN
	}
	if len(candidates) == 1 {
		return candidates[0], BPR_ONLY_PATH
	}
	best := candidates[0]
	for _, p := range candidates {
		if p.offset == incumbent {
			best = p
			break
		}
	}
	reason := BPR_UNKNOWN
	for _, p := range candidates {
		if p == best {
			continue
		}
		winner, r := c.compare(best, p)
		if winner != best || reason == BPR_UNKNOWN {
			reason = r
		}
		best = winner
	}
	return best, reason
}

func without(candidates []*pathState, p *pathState) []*pathState {
	out := make([]*pathState, 0, len(candidates))
	for _, c := range candidates {
		if c != p {
			out = append(out, c)
		}
	}
	return out
}

// SingleBest is the classic decision process: one path per destination.
type SingleBest struct{}

func (SingleBest) selectPaths(candidates []*pathState, c *Comparator, incumbent int) ([]*pathState, BestPathReason) {
	best, reason := tournament(candidates, c, incumbent)
	if best == nil {
		return nil, reason
	}
	return []*pathState{best}, reason
}

func (SingleBest) String() string { return "single-best" }

// BestN selects up to N paths by running the tournament again over what
// is left after each winner. N == 0 selects every path.
type BestN struct {
	N int
}

func (p BestN) selectPaths(candidates []*pathState, c *Comparator, incumbent int) ([]*pathState, BestPathReason) {
	if p.N == 0 {
		return AllPaths{}.selectPaths(candidates, c, incumbent)
	}
	var reason BestPathReason
	selected := make([]*pathState, 0, min(p.N, len(candidates)))
	for len(selected) < p.N && len(candidates) > 0 {
		best, r := tournament(candidates, c, incumbent)
		if len(selected) == 0 {
			reason = r
		}
		selected = append(selected, best)
		candidates = without(candidates, best)
		incumbent = -1
	}
	return selected, reason
}

func (p BestN) String() string {
	if p.N == 0 {
		return "all-paths"
	}
	return fmt.Sprintf("best-%d", p.N)
}

// AllPaths selects every path, the single best first and the others in
// offset order.
type AllPaths struct{}

func (AllPaths) selectPaths(candidates []*pathState, c *Comparator, incumbent int) ([]*pathState, BestPathReason) {
	best, reason := tournament(candidates, c, incumbent)
	if best == nil {
		return nil, reason
	}
	return append([]*pathState{best}, without(candidates, best)...), reason
}

func (AllPaths) String() string { return "all-paths" }

// PolicyFromAddPath maps a configured add-path path count to a policy:
// 1 or less is SingleBest, 0 with add-path enabled is every path.
func PolicyFromAddPath(enabled bool, n int) Policy {
	switch {
	case !enabled || n == 1:
		return SingleBest{}
	case n <= 0:
		return AllPaths{}
	}
	return BestN{N: n}
}
