// Package selector compiles and evaluates message filter expressions.
//
// The default dialect is the SQL-92 subset used by JMS-style selectors:
//
//	JMSPriority > 4 AND region IN ('eu', 'us') AND title LIKE 'Thr_ll%'
//	price * qty BETWEEN 100 AND 200 OR discount IS NOT NULL
//	PARSER('json', 'sensor.readings.0.value') > 40
//
// Compile returns an immutable *Filter whose operator tree has already been
// constant folded. Evaluation is pure and may run on any goroutine. Two
// filters are Equal when their folded trees are structurally identical,
// which is also what Hash summarizes.
//
// Comparisons use three-valued logic: a missing identifier yields unknown,
// unknown propagates through AND/OR/NOT, and a filter only matches when it
// evaluates to true. Integral arithmetic stays integral; any floating
// operand promotes the result to float64; division by zero yields NaN.
//
// CompileCEL offers a CEL dialect behind the same Executor interface.
package selector
