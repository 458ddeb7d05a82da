package artifacts

import (
	"fmt"
	"strings"
)

const diffContext = 3

// maxDiffCells caps the LCS table size; beyond it the diff degrades to
// a whole-content replacement rather than allocating quadratic memory.
const maxDiffCells = 4 << 20

type diffOp struct {
	kind byte // ' ', '-', '+'
	text string
}

// unifiedDiff renders a unified diff between two snapshots of an
// artifact. Identical snapshots yield an empty string.
func unifiedDiff(name string, fromVersion, toVersion int, from, to string) string {
	if from == to {
		return ""
	}

	a := splitLines(from)
	b := splitLines(to)
	ops := diffOps(a, b)

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s (v%d)\n", name, fromVersion)
	fmt.Fprintf(&sb, "+++ %s (v%d)\n", name, toVersion)

	// 1-based line numbers in a and b at each op.
	type pos struct{ a, b int }
	positions := make([]pos, len(ops)+1)
	aLine, bLine := 1, 1
	for k, op := range ops {
		positions[k] = pos{aLine, bLine}
		switch op.kind {
		case ' ':
			aLine++
			bLine++
		case '-':
			aLine++
		case '+':
			bLine++
		}
	}
	positions[len(ops)] = pos{aLine, bLine}

	k := 0
	for k < len(ops) {
		if ops[k].kind == ' ' {
			k++
			continue
		}

		start := k - diffContext
		if start < 0 {
			start = 0
		}
		end := k + 1
		run := 0
		for e := k + 1; e < len(ops); e++ {
			if ops[e].kind == ' ' {
				run++
				if run > 2*diffContext {
					break
				}
			} else {
				end = e + 1
				run = 0
			}
		}
		end += diffContext
		if end > len(ops) {
			end = len(ops)
		}

		aCount, bCount := 0, 0
		for _, op := range ops[start:end] {
			if op.kind != '+' {
				aCount++
			}
			if op.kind != '-' {
				bCount++
			}
		}
		aStart, bStart := positions[start].a, positions[start].b
		if aCount == 0 {
			aStart--
		}
		if bCount == 0 {
			bStart--
		}

		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", aStart, aCount, bStart, bCount)
		for _, op := range ops[start:end] {
			sb.WriteByte(op.kind)
			sb.WriteString(op.text)
			sb.WriteByte('\n')
		}

		k = end
	}

	return sb.String()
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// diffOps aligns two line slices with a longest-common-subsequence
// table and emits keep/delete/insert operations.
func diffOps(a, b []string) []diffOp {
	n, m := len(a), len(b)
	if n > 0 && m > 0 && n*m > maxDiffCells {
		ops := make([]diffOp, 0, n+m)
		for _, line := range a {
			ops = append(ops, diffOp{'-', line})
		}
		for _, line := range b {
			ops = append(ops, diffOp{'+', line})
		}
		return ops
	}

	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			switch {
			case a[i] == b[j]:
				lcs[i][j] = lcs[i+1][j+1] + 1
			case lcs[i+1][j] >= lcs[i][j+1]:
				lcs[i][j] = lcs[i+1][j]
			default:
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	ops := make([]diffOp, 0, n+m)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, diffOp{' ', a[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, diffOp{'-', a[i]})
			i++
		default:
			ops = append(ops, diffOp{'+', b[j]})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, diffOp{'-', a[i]})
	}
	for ; j < m; j++ {
		ops = append(ops, diffOp{'+', b[j]})
	}
	return ops
}
