// Package observability builds the router's zap logger and Prometheus metrics.
//
// Components receive a *zap.Logger and a *Metrics by injection; nothing in this
// package is global. Metrics register against the Registerer they are given so
// tests can use a private registry.
package observability
