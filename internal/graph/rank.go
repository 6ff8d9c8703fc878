package graph

import "math"

// Rank computes PageRank centrality over the functions. Each dependency
// edge points from consumer to producer, so functions whose output feeds
// many parameters rank highest. Parallel edges count individually.
func (g *Graph) Rank() []float64 {
	n := len(g.Functions)
	if n == 0 {
		return nil
	}
	if len(g.Edges) == 0 {
		uniform := make([]float64, n)
		for i := range uniform {
			uniform[i] = 1.0 / float64(n)
		}
		return uniform
	}

	outEdges := make([][]int, n)
	for _, e := range g.Edges {
		outEdges[e.Consumer] = append(outEdges[e.Consumer], e.Producer)
	}
	return pageRank(outEdges, 0.85, 100, 1e-6)
}

func pageRank(outEdges [][]int, alpha float64, maxIter int, tol float64) []float64 {
	n := len(outEdges)
	rank := make([]float64, n)
	for i := range rank {
		rank[i] = 1.0 / float64(n)
	}
	teleport := (1.0 - alpha) / float64(n)

	for iter := 0; iter < maxIter; iter++ {
		// Dangling node contribution (nodes with no outgoing edges)
		var danglingSum float64
		for node, targets := range outEdges {
			if len(targets) == 0 {
				danglingSum += rank[node]
			}
		}
		base := teleport + alpha*danglingSum/float64(n)

		newRank := make([]float64, n)
		for i := range newRank {
			newRank[i] = base
		}
		for src, targets := range outEdges {
			if len(targets) == 0 {
				continue
			}
			contrib := alpha * rank[src] / float64(len(targets))
			for _, tgt := range targets {
				newRank[tgt] += contrib
			}
		}

		var diff float64
		for i := range rank {
			diff += math.Abs(newRank[i] - rank[i])
		}
		rank = newRank
		if diff < tol {
			break
		}
	}
	return rank
}
