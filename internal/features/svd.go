package features

import (
	"math"
	"math/rand"
	"sort"
)

const svdEps = 1e-10

// truncatedSVD returns up to k right singular vectors (rows, length nCols)
// and singular values of the sparse matrix, largest first. Randomized
// subspace iteration followed by an exact eigen solve of the small
// projected problem. Components with a numerically zero singular value are
// dropped, so fewer than k may come back for low-rank input.
func truncatedSVD(rows []sparse, nCols, k, oversample, iterations int, seed int64) ([][]float64, []float64) {
	nRows := len(rows)
	if nRows == 0 || nCols == 0 || k <= 0 {
		return nil, nil
	}
	l := k + oversample
	if l > nRows {
		l = nRows
	}
	if l > nCols {
		l = nCols
	}

	rng := rand.New(rand.NewSource(seed))
	omega := make([][]float64, l)
	for i := range omega {
		omega[i] = make([]float64, nCols)
		for j := range omega[i] {
			omega[i][j] = rng.NormFloat64()
		}
	}

	q := orthonormalize(multiply(rows, omega))
	for it := 0; it < iterations && len(q) > 0; it++ {
		z := orthonormalize(multiplyT(rows, nCols, q))
		q = orthonormalize(multiply(rows, z))
	}
	if len(q) == 0 {
		return nil, nil
	}

	// B = Qᵀ X, one dense row of length nCols per basis vector
	b := multiplyT(rows, nCols, q)
	m := len(b)
	gram := make([][]float64, m)
	for i := range gram {
		gram[i] = make([]float64, m)
		for j := 0; j <= i; j++ {
			v := dotDense(b[i], b[j])
			gram[i][j], gram[j][i] = v, v
		}
	}
	values, vectors := jacobiEigen(gram)

	order := make([]int, m)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, c int) bool { return values[order[a]] > values[order[c]] })

	var (
		components [][]float64
		singular   []float64
	)
	top := 0.0
	for _, idx := range order {
		if len(components) == k {
			break
		}
		lambda := values[idx]
		if lambda <= 0 {
			break
		}
		sigma := math.Sqrt(lambda)
		if top == 0 {
			top = sigma
		}
		if sigma < svdEps*math.Max(1, top) {
			break
		}
		comp := make([]float64, nCols)
		for r := 0; r < m; r++ {
			coef := vectors[r][idx] / sigma
			if coef == 0 {
				continue
			}
			for j, v := range b[r] {
				comp[j] += coef * v
			}
		}
		flipSign(comp)
		components = append(components, comp)
		singular = append(singular, sigma)
	}
	return components, singular
}

// multiply computes X·Vᵀ for dense row vectors V; result has one column
// vector (length nRows) per input vector
func multiply(rows []sparse, vecs [][]float64) [][]float64 {
	out := make([][]float64, len(vecs))
	for c, v := range vecs {
		col := make([]float64, len(rows))
		for r, row := range rows {
			col[r] = row.dot(v)
		}
		out[c] = col
	}
	return out
}

// multiplyT computes Xᵀ·u for each column vector u (length nRows)
func multiplyT(rows []sparse, nCols int, cols [][]float64) [][]float64 {
	out := make([][]float64, len(cols))
	for c, u := range cols {
		acc := make([]float64, nCols)
		for r, row := range rows {
			if u[r] == 0 {
				continue
			}
			for i, j := range row.idx {
				acc[j] += u[r] * row.val[i]
			}
		}
		out[c] = acc
	}
	return out
}

// orthonormalize runs modified Gram-Schmidt twice and drops dependent vectors
func orthonormalize(vecs [][]float64) [][]float64 {
	out := make([][]float64, 0, len(vecs))
	for _, v := range vecs {
		w := append([]float64(nil), v...)
		orig := math.Sqrt(dotDense(w, w))
		if orig == 0 {
			continue
		}
		for pass := 0; pass < 2; pass++ {
			for _, q := range out {
				p := dotDense(q, w)
				for i := range w {
					w[i] -= p * q[i]
				}
			}
		}
		norm := math.Sqrt(dotDense(w, w))
		if norm < svdEps*orig || norm < svdEps {
			continue
		}
		for i := range w {
			w[i] /= norm
		}
		out = append(out, w)
	}
	return out
}

// jacobiEigen diagonalizes a symmetric matrix with cyclic Jacobi rotations.
// Column j of the returned vectors pairs with values[j].
func jacobiEigen(sym [][]float64) ([]float64, [][]float64) {
	n := len(sym)
	a := make([][]float64, n)
	v := make([][]float64, n)
	for i := range a {
		a[i] = append([]float64(nil), sym[i]...)
		v[i] = make([]float64, n)
		v[i][i] = 1
	}

	for sweep := 0; sweep < 100; sweep++ {
		off := 0.0
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				off += a[i][j] * a[i][j]
			}
		}
		if off < 1e-22 {
			break
		}
		for p := 0; p < n; p++ {
			for q := p + 1; q < n; q++ {
				if math.Abs(a[p][q]) < 1e-300 {
					continue
				}
				theta := (a[q][q] - a[p][p]) / (2 * a[p][q])
				t := math.Copysign(1, theta) / (math.Abs(theta) + math.Sqrt(theta*theta+1))
				c := 1 / math.Sqrt(t*t+1)
				s := t * c
				for k := 0; k < n; k++ {
					akp, akq := a[k][p], a[k][q]
					a[k][p] = c*akp - s*akq
					a[k][q] = s*akp + c*akq
				}
				for k := 0; k < n; k++ {
					apk, aqk := a[p][k], a[q][k]
					a[p][k] = c*apk - s*aqk
					a[q][k] = s*apk + c*aqk
				}
				for k := 0; k < n; k++ {
					vkp, vkq := v[k][p], v[k][q]
					v[k][p] = c*vkp - s*vkq
					v[k][q] = s*vkp + c*vkq
				}
			}
		}
	}

	values := make([]float64, n)
	for i := range values {
		values[i] = a[i][i]
	}
	return values, v
}

// flipSign makes the largest-magnitude entry positive
func flipSign(v []float64) {
	best, at := 0.0, -1
	for i, x := range v {
		if math.Abs(x) > best {
			best, at = math.Abs(x), i
		}
	}
	if at >= 0 && v[at] < 0 {
		for i := range v {
			v[i] = -v[i]
		}
	}
}

func dotDense(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
