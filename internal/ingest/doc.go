// Package ingest reads registry extract files into raw records. Both CSV
// and Excel sources are supported; header positions are resolved
// dynamically from alias lists because column order and spelling vary
// between registry offices. Raw records stay untyped text end to end;
// type coercion is the normalizer's job.
package ingest
