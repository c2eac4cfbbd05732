// Package dag is a small directed acyclic graph over string IDs. The model
// graph uses it to order the outputs of a wiring program and to find
// dependency cycles; every query returns IDs in a deterministic order so
// that diagnostics and rendered graphs are stable between runs.
package dag
