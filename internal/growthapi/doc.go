// Package growthapi is a typed client for the growth tracking API.
//
// It exposes the reads the recalculation coordinator polls (a single
// measurement, every measurement of a baby, a baby profile) and the writes
// that trigger server-side percentile recomputation (measurement update, baby
// profile patch).
//
// Non-2xx responses are returned as [*APIError]. Transport failures are
// returned as-is, wrapped with the operation name.
package growthapi
