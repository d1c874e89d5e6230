// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/mathesis-ai/mathesis/services/resolver/datatypes"
)

// =============================================================================
// Pattern Solver
// =============================================================================

// Confidence values for deterministic pattern matches. Arithmetic is exact
// computation; formula lookup is a curated table. Both sit above every
// network-backed phase.
const (
	arithmeticConfidence = 0.98
	formulaConfidence    = 0.93
)

// binaryExpr extracts a single binary arithmetic expression from normalized
// text. Filler around the expression ("what is 4+4") is tolerated, but both
// ends are anchored to whitespace or the string boundary, matching the
// classifier's arithmeticExpr. Without the anchors, digit fragments inside
// algebraic terms like "x^2+3x" would match and produce a confidently wrong
// answer.
var binaryExpr = regexp.MustCompile(`(?:^|\s)(-?\d+(?:\.\d+)?)\s*([\+\-\*/\^])\s*(-?\d+(?:\.\d+)?)(?:\s|\?|$)`)

// formulaEntry is one row of the canonical formula table.
type formulaEntry struct {
	// phrase is matched by substring containment on normalized text.
	phrase string

	// answer is the canonical formula text returned verbatim.
	answer string
}

// formulaTable maps topic phrases to canonical formulas. First match wins in
// declaration order, so more specific phrases go first.
var formulaTable = []formulaEntry{
	{"quadratic formula", "The quadratic formula: x = (-b ± √(b² - 4ac)) / 2a, for ax² + bx + c = 0."},
	{"area of a circle", "Area of a circle: A = πr², where r is the radius."},
	{"area of circle", "Area of a circle: A = πr², where r is the radius."},
	{"circumference of a circle", "Circumference of a circle: C = 2πr, where r is the radius."},
	{"circumference of circle", "Circumference of a circle: C = 2πr, where r is the radius."},
	{"area of a triangle", "Area of a triangle: A = ½ × base × height."},
	{"area of triangle", "Area of a triangle: A = ½ × base × height."},
	{"area of a rectangle", "Area of a rectangle: A = length × width."},
	{"area of rectangle", "Area of a rectangle: A = length × width."},
	{"volume of a sphere", "Volume of a sphere: V = (4/3)πr³, where r is the radius."},
	{"volume of sphere", "Volume of a sphere: V = (4/3)πr³, where r is the radius."},
	{"volume of a cylinder", "Volume of a cylinder: V = πr²h, where r is the radius and h the height."},
	{"volume of cylinder", "Volume of a cylinder: V = πr²h, where r is the radius and h the height."},
	{"pythagorean theorem", "The Pythagorean theorem: a² + b² = c², where c is the hypotenuse."},
	{"slope formula", "Slope between two points: m = (y₂ - y₁) / (x₂ - x₁)."},
	{"distance formula", "Distance between two points: d = √((x₂ - x₁)² + (y₂ - y₁)²)."},
	{"compound interest", "Compound interest: A = P(1 + r/n)^(nt)."},
	{"newton's second law", "Newton's second law: F = ma (force equals mass times acceleration)."},
	{"kinetic energy", "Kinetic energy: KE = ½mv², where m is mass and v is velocity."},
}

// PatternSolver deterministically answers binary arithmetic and canonical
// formula queries. No external I/O, no timeout risk; this is the
// highest-confidence phase after the exact cache.
//
// Thread Safety: PatternSolver is stateless and safe for concurrent use.
type PatternSolver struct{}

// NewPatternSolver creates a pattern solver.
func NewPatternSolver() *PatternSolver {
	return &PatternSolver{}
}

// Solve attempts a deterministic answer for the query.
//
// Description:
//
//	Tries binary arithmetic first (exact computation with standard operator
//	semantics, division by zero yields an explicit "undefined" answer),
//	then the canonical formula table (substring containment, declaration
//	order). Returns nil when neither class matches.
//
// Inputs:
//
//	q - The normalized query.
//
// Outputs:
//
//	*datatypes.ResolutionCandidate - The answer, or nil for no match.
func (s *PatternSolver) Solve(q datatypes.Query) *datatypes.ResolutionCandidate {
	if c := s.solveArithmetic(q.Normalized); c != nil {
		return c
	}
	return s.solveFormula(q.Normalized)
}

// solveArithmetic evaluates a single binary arithmetic expression.
func (s *PatternSolver) solveArithmetic(normalized string) *datatypes.ResolutionCandidate {
	m := binaryExpr.FindStringSubmatch(normalized)
	if m == nil {
		return nil
	}

	left, errL := strconv.ParseFloat(m[1], 64)
	right, errR := strconv.ParseFloat(m[3], 64)
	if errL != nil || errR != nil {
		return nil
	}
	op := m[2]

	var result float64
	switch op {
	case "+":
		result = left + right
	case "-":
		result = left - right
	case "*":
		result = left * right
	case "/":
		if right == 0 {
			return &datatypes.ResolutionCandidate{
				Solution:   fmt.Sprintf("%s ÷ %s is undefined: division by zero has no value.", m[1], m[3]),
				Confidence: arithmeticConfidence,
				Source:     datatypes.SourcePattern,
			}
		}
		result = left / right
	case "^":
		result = math.Pow(left, right)
	default:
		return nil
	}

	return &datatypes.ResolutionCandidate{
		Solution:   fmt.Sprintf("%s %s %s = %s", m[1], op, m[3], formatNumber(result)),
		Confidence: arithmeticConfidence,
		Source:     datatypes.SourcePattern,
	}
}

// solveFormula looks the query up in the canonical formula table.
func (s *PatternSolver) solveFormula(normalized string) *datatypes.ResolutionCandidate {
	for _, entry := range formulaTable {
		if strings.Contains(normalized, entry.phrase) {
			return &datatypes.ResolutionCandidate{
				Solution:   entry.answer,
				Confidence: formulaConfidence,
				Source:     datatypes.SourcePattern,
			}
		}
	}
	return nil
}

// formatNumber renders integers without a decimal point and keeps floats
// readable ("8", not "8.000000").
func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', 10, 64)
}
