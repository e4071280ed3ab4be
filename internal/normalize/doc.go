// Package normalize coerces raw registry records into canonical typed
// records. Each field normalizes independently: a field that cannot be
// coerced becomes missing, never zero, and never fails the record. Every
// coercion failure is counted so downstream data loss stays auditable.
package normalize
