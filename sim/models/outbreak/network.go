package outbreak

import (
	"maps"
	"slices"

	"github.com/ai4ci/jpansim4r/sim/stats"
)

// Contact is one undirected edge of the contact network, seen from one end.
type Contact struct {
	ID     int     `json:"id"`
	Weight float64 `json:"w"`
}

// wattsStrogatz builds a ring lattice of n nodes each joined to its k
// nearest neighbours, then rewires every lattice edge to a uniformly chosen
// node with probability beta. Rewirings that would create a self-loop or a
// duplicate edge are dropped. Edge weights are uniform in [0, 1).
// Contacts are returned sorted by id.
func wattsStrogatz(n, k int, beta float64, s *stats.Sampler) [][]Contact {
	adj := make([]map[int]bool, n)
	for i := range adj {
		adj[i] = make(map[int]bool, k)
	}
	link := func(u, v int) { adj[u][v], adj[v][u] = true, true }
	for i := 0; i < n; i++ {
		for j := 1; j <= k/2; j++ {
			link(i, (i+j)%n)
		}
	}
	for j := 1; j <= k/2; j++ {
		for i := 0; i < n; i++ {
			v := (i + j) % n
			if !adj[i][v] || !s.Bernoulli(beta) {
				continue
			}
			w := s.IntN(n)
			if w == i || adj[i][w] {
				continue
			}
			delete(adj[i], v)
			delete(adj[v], i)
			link(i, w)
		}
	}

	contacts := make([][]Contact, n)
	for i := 0; i < n; i++ {
		for _, v := range slices.Sorted(maps.Keys(adj[i])) {
			if v < i {
				continue
			}
			w := s.Uniform()
			contacts[i] = append(contacts[i], Contact{ID: v, Weight: w})
			contacts[v] = append(contacts[v], Contact{ID: i, Weight: w})
		}
	}
	for i := range contacts {
		slices.SortFunc(contacts[i], func(a, b Contact) int { return a.ID - b.ID })
	}
	return contacts
}
