// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pattern

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/roller/config"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Pattern is an ordered list of bit ids and the support of their intersection.
// Bit ids are kept in the order they joined, so the seed comes first.
type Pattern struct {
	BitIds  []int
	Support float64
}

// Miner mines frequent patterns from an incidence.
type Miner interface {
	Name() string
	// Mine returns patterns in discovery order. A non-positive minSup falls
	// back to the least support of a single bit id.
	Mine(incidence *Incidence, minSup float64) []Pattern
}

// NewMiner creates a miner by name.
func NewMiner(name string) (Miner, error) {
	switch name {
	case config.MinerRoller:
		return &Roller{}, nil
	case config.MinerRollerMaxi:
		return &MaximalRoller{}, nil
	}
	return nil, errors.NotSupportedf("miner %s", name)
}

// Roller grows each pattern in a single forward pass over candidates sorted by
// descending support.
type Roller struct{}

func (r *Roller) Name() string {
	return config.MinerRoller
}

func (r *Roller) Mine(incidence *Incidence, minSup float64) []Pattern {
	return roll(incidence, minSup, func(seed int, candidates []int, minSup float64) Pattern {
		acc := incidence.Column(seed).Clone()
		pattern := Pattern{BitIds: []int{seed}, Support: support(acc.Count(), incidence.CountSessions())}
		for _, candidate := range candidates {
			s := support(acc.IntersectionCardinality(incidence.Column(candidate)), incidence.CountSessions())
			if s >= minSup {
				acc.InPlaceIntersection(incidence.Column(candidate))
				pattern.BitIds = append(pattern.BitIds, candidate)
				pattern.Support = s
			}
		}
		return pattern
	})
}

// MaximalRoller grows each pattern by repeatedly adding the candidate that
// keeps the highest support. Ties go to the first candidate.
type MaximalRoller struct{}

func (r *MaximalRoller) Name() string {
	return config.MinerRollerMaxi
}

func (r *MaximalRoller) Mine(incidence *Incidence, minSup float64) []Pattern {
	return roll(incidence, minSup, func(seed int, candidates []int, minSup float64) Pattern {
		acc := incidence.Column(seed).Clone()
		pattern := Pattern{BitIds: []int{seed}, Support: support(acc.Count(), incidence.CountSessions())}
		pool := slices.Clone(candidates)
		for {
			best, bestSupport := -1, 0.0
			for i, candidate := range pool {
				s := support(acc.IntersectionCardinality(incidence.Column(candidate)), incidence.CountSessions())
				if s >= minSup && (best < 0 || s > bestSupport) {
					best, bestSupport = i, s
				}
			}
			if best < 0 {
				break
			}
			acc.InPlaceIntersection(incidence.Column(pool[best]))
			pattern.BitIds = append(pattern.BitIds, pool[best])
			pattern.Support = bestSupport
			pool = slices.Delete(pool, best, best+1)
		}
		return pattern
	})
}

type growFunc func(seed int, candidates []int, minSup float64) Pattern

// roll runs the outer loop shared by both miners. Mining stops as soon as a
// seed fails to gain a second bit id.
func roll(incidence *Incidence, minSup float64, grow growFunc) []Pattern {
	if incidence.Len() == 0 || incidence.CountSessions() == 0 {
		return nil
	}
	if minSup <= 0 {
		minSup = incidence.MinSupport()
	}
	candidates := lo.Filter(lo.Range(incidence.Len()), func(bitId, _ int) bool {
		return incidence.Support(bitId) >= minSup
	})
	sortBySupport(candidates, incidence.supports)

	var patterns []Pattern
	for len(candidates) >= 2 {
		seed := candidates[0]
		if incidence.Support(seed) < minSup {
			break
		}
		pattern := grow(seed, candidates[1:], minSup)
		if len(pattern.BitIds) < 2 {
			break
		}
		patterns = append(patterns, pattern)
		members := mapset.NewThreadUnsafeSet(pattern.BitIds...)
		candidates = lo.Filter(candidates, func(bitId, _ int) bool {
			return !members.Contains(bitId)
		})
	}
	return patterns
}
