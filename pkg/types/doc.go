// Package types holds value types shared across the repochat core: the
// error taxonomy surfaced to consumers and the token-estimation
// heuristic used for budget accounting.
package types
