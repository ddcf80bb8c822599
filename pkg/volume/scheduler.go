// Copyright 2019 Tad Lebeck
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package volume

import (
	"fmt"

	"github.com/Nuvoloso/volumed/pkg/objects"
)

// placement is the result of scheduling
type placement struct {
	b    *backend
	pool string
}

func (p *placement) host(m *Manager) string {
	return objects.MakeHost(m.Host, p.b.name, p.pool)
}

// schedule selects the pool with the most usable capacity that can hold sizeGiB.
// The hint restricts the candidates to a backend ("host@backend") or a pool ("host@backend#pool").
// The size is charged to the selected pool until the next stats refresh.
func (m *Manager) schedule(sizeGiB int64, hint string) (*placement, error) {
	var best *PoolInfo
	candidates := 0
	for _, pi := range m.Pools() {
		if hint != "" {
			if objects.HostBackend(hint) != "" && objects.HostBackend(hint) != pi.Backend {
				continue
			}
			if objects.HostName(hint) != "" && objects.HostName(hint) != m.Host {
				continue
			}
			if p := objects.HostPool(hint); p != "" && p != pi.Stats.Name {
				continue
			}
		}
		candidates++
		if pi.FreeGiB < float64(sizeGiB) {
			m.Log.Debugf("Pool %s: %.1f GiB usable, %d GiB requested", pi.Host, pi.FreeGiB, sizeGiB)
			continue
		}
		if best == nil || pi.FreeGiB > best.FreeGiB {
			best = pi
		}
	}
	if best == nil {
		if candidates == 0 {
			return nil, fmt.Errorf("no pool matches %q: %w", hint, ErrNoValidBackend)
		}
		return nil, fmt.Errorf("no pool has %d GiB available: %w", sizeGiB, ErrNoValidBackend)
	}
	p := &placement{b: m.backends[best.Backend], pool: best.Stats.Name}
	p.b.allocate(p.pool, float64(sizeGiB))
	m.Log.Debugf("Scheduled %d GiB on %s", sizeGiB, best.Host)
	return p, nil
}
