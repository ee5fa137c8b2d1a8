// Package query builds the predicate words attached to print requests.
//
// Predicates are evaluated by the device on a stack: each condition pushes a
// result, logic words pop their operands and push the combined result. All
// pushed results must be true for an item to be returned.
package query

import "strings"

// Op is a comparison operator.
type Op string

// Comparison operators.
const (
	// OpExists is true when the property is present.
	OpExists Op = ""
	// OpNotExists is true when the property is absent.
	OpNotExists Op = "-"
	// OpEqual compares for equality.
	OpEqual Op = "="
	// OpLess is true when the property is less than the value.
	OpLess Op = "<"
	// OpGreater is true when the property is greater than the value.
	OpGreater Op = ">"
)

// Logic words.
const (
	wordNot = "?#!"
	wordAnd = "?#&"
	wordOr  = "?#|"
)

// Query is an ordered list of predicate words. The zero value matches everything.
type Query struct {
	words []string
}

// Where returns a query testing name == value.
func Where(name, value string) *Query {
	return WhereOp(name, OpEqual, value)
}

// WhereOp returns a query applying op to name. The value is ignored for
// OpExists and OpNotExists.
func WhereOp(name string, op Op, value string) *Query {
	return new(Query).push(name, op, value)
}

// Exists returns a query testing that name is present.
func Exists(name string) *Query {
	return WhereOp(name, OpExists, "")
}

// NotExists returns a query testing that name is absent.
func NotExists(name string) *Query {
	return WhereOp(name, OpNotExists, "")
}

func (q *Query) push(name string, op Op, value string) *Query {
	name = strings.TrimSpace(name)
	switch op {
	case OpExists:
		q.words = append(q.words, "?"+name)
	case OpNotExists:
		q.words = append(q.words, "?-"+name)
	case OpEqual:
		q.words = append(q.words, "?"+name+"="+value)
	default:
		q.words = append(q.words, "?"+string(op)+name+"="+value)
	}
	return q
}

// Not negates the last result.
func (q *Query) Not() *Query {
	q.words = append(q.words, wordNot)
	return q
}

// AndWhere adds name == value and combines it with the previous result.
func (q *Query) AndWhere(name, value string) *Query {
	return q.AndWhereOp(name, OpEqual, value)
}

// AndWhereOp adds a condition and combines it with the previous result by AND.
func (q *Query) AndWhereOp(name string, op Op, value string) *Query {
	q.push(name, op, value)
	q.words = append(q.words, wordAnd)
	return q
}

// OrWhere adds name == value and combines it with the previous result.
func (q *Query) OrWhere(name, value string) *Query {
	return q.OrWhereOp(name, OpEqual, value)
}

// OrWhereOp adds a condition and combines it with the previous result by OR.
func (q *Query) OrWhereOp(name string, op Op, value string) *Query {
	q.push(name, op, value)
	q.words = append(q.words, wordOr)
	return q
}

// And appends other and combines both results by AND.
func (q *Query) And(other *Query) *Query {
	q.words = append(q.words, other.words...)
	q.words = append(q.words, wordAnd)
	return q
}

// Or appends other and combines both results by OR.
func (q *Query) Or(other *Query) *Query {
	q.words = append(q.words, other.words...)
	q.words = append(q.words, wordOr)
	return q
}

// Words returns a copy of the predicate words.
func (q *Query) Words() []string {
	out := make([]string, len(q.words))
	copy(out, q.words)
	return out
}

// String returns the words separated by spaces.
func (q *Query) String() string {
	return strings.Join(q.words, " ")
}
