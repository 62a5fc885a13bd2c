package store

import (
	"fmt"
	"sort"
	"strings"
)

// Filter is a metadata predicate. Each entry maps a scalar column to either
// a bare value (equality) or an operator map such as {"$gte": 2}.
type Filter map[string]any

var comparisonOps = map[string]bool{
	"$eq": true, "$ne": true, "$gt": true, "$gte": true, "$lt": true, "$lte": true,
}

// Matches reports whether a record's metadata satisfies every entry of the
// filter. A nil filter matches everything.
func (f Filter) Matches(meta map[string]any) bool {
	for column, cond := range f {
		actual, ok := meta[column]
		if !ok {
			return false
		}
		if ops, isOps := cond.(map[string]any); isOps {
			for op, want := range ops {
				if !compare(op, actual, want) {
					return false
				}
			}
			continue
		}
		if !compare("$eq", actual, cond) {
			return false
		}
	}
	return true
}

// compare evaluates one operator. Numeric comparisons coerce both sides to
// float64; everything else compares as strings.
func compare(op string, actual, want any) bool {
	if !comparisonOps[op] {
		return false
	}

	if an, aok := toFloat(actual); aok {
		if wn, wok := toFloat(want); wok {
			switch op {
			case "$eq":
				return an == wn
			case "$ne":
				return an != wn
			case "$gt":
				return an > wn
			case "$gte":
				return an >= wn
			case "$lt":
				return an < wn
			case "$lte":
				return an <= wn
			}
		}
		return op == "$ne"
	}

	as, ws := toString(actual), toString(want)
	switch op {
	case "$eq":
		return as == ws
	case "$ne":
		return as != ws
	case "$gt":
		return as > ws
	case "$gte":
		return as >= ws
	case "$lt":
		return as < ws
	case "$lte":
		return as <= ws
	}
	return false
}

// SQL renders the filter as a SQL predicate with deterministic column
// order. String literals have single quotes doubled.
func (f Filter) SQL() string {
	if len(f) == 0 {
		return ""
	}

	columns := make([]string, 0, len(f))
	for c := range f {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	var clauses []string
	for _, column := range columns {
		cond := f[column]
		if ops, isOps := cond.(map[string]any); isOps {
			opNames := make([]string, 0, len(ops))
			for op := range ops {
				opNames = append(opNames, op)
			}
			sort.Strings(opNames)
			for _, op := range opNames {
				clauses = append(clauses, fmt.Sprintf("%s %s %s", column, sqlOp(op), sqlLiteral(ops[op])))
			}
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%s = %s", column, sqlLiteral(cond)))
	}
	return strings.Join(clauses, " AND ")
}

func sqlOp(op string) string {
	switch op {
	case "$eq":
		return "="
	case "$ne":
		return "!="
	case "$gt":
		return ">"
	case "$gte":
		return ">="
	case "$lt":
		return "<"
	case "$lte":
		return "<="
	default:
		return "="
	}
}

// sqlLiteral renders a value as a SQL literal. Strings are quoted with
// embedded single quotes doubled.
func sqlLiteral(v any) string {
	if _, ok := toFloat(v); ok {
		if _, isBool := v.(bool); !isBool {
			return fmt.Sprintf("%v", v)
		}
	}
	return "'" + strings.ReplaceAll(toString(v), "'", "''") + "'"
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
