package l2track

import "math"

// Forbidden marks a cost-matrix entry the solver must never select.
const Forbidden = 1e18

// HungarianAssign solves the rectangular assignment problem for an n×m
// cost matrix using Kuhn-Munkres with potentials, O(n³) in the padded
// dimension. It returns assignments[i] = column assigned to row i, or -1
// when row i is unassigned. Entries ≥ Forbidden are never returned as
// assignments; rows whose only options are forbidden stay unassigned.
//
// The solver first maximises the number of admissible pairs, then
// minimises their total cost. Padding cells cost 0 and forbidden cells are
// replaced by a penalty larger than any admissible assignment, so the
// potentials stay well inside float64 precision.
func HungarianAssign(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	result := make([]int, n)
	for i := range result {
		result[i] = -1
	}
	if m == 0 {
		return result
	}

	dim := max(n, m)
	maxCost := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			if v := cost[i][j]; v < Forbidden && v > maxCost {
				maxCost = v
			}
		}
	}
	penalty := (maxCost + 1) * float64(dim+1)

	c := make([][]float64, dim)
	for i := range c {
		c[i] = make([]float64, dim)
		for j := range c[i] {
			switch {
			case i >= n || j >= m:
				c[i][j] = 0
			case cost[i][j] >= Forbidden:
				c[i][j] = penalty
			default:
				c[i][j] = cost[i][j]
			}
		}
	}

	// 1-indexed internally; column 0 is the virtual start column.
	const inf = math.MaxFloat64 / 2
	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	p := make([]int, dim+1)
	way := make([]int, dim+1)
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0
		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1
			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			if j1 < 0 {
				break
			}
			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	for j := 1; j <= dim; j++ {
		row := p[j] - 1
		col := j - 1
		if row < 0 || row >= n || col >= m {
			continue
		}
		if cost[row][col] >= Forbidden {
			continue
		}
		result[row] = col
	}
	return result
}
