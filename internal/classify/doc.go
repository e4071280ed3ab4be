// Package classify implements the contextual data-quality classifier.
//
// Rules are an explicit ordered list of (predicate, severity, reason)
// entries evaluated most-severe-first: all ERROR rules run before any
// WARNING rule, so a record matching both lands on ERROR. Within a
// severity, the first matching rule supplies the reason code. A rule whose
// required inputs are missing fails closed: it matches, the record goes to
// the error partition, and the fail-closed hit is counted.
//
// The key contextual rule: a zero or missing monetary value is only an
// error when the transaction is market-relevant. The same value on an
// administrative act (inheritance, adjustment) is valid data.
package classify
