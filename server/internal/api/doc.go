// Package api is umpire's HTTP surface.
//
// Routes (chi):
//
//	GET /check    basic auth, then run one threshold check
//	GET /health   liveness, always {"health":"ok"}
//	GET /metrics  check counters in Prometheus text format
//
// /check answers 200 when the mean is within bounds and 500 with the same
// {"value":v} body when it is not, so load balancers can act on the status
// alone. Missing data is 404 unless empty_ok is set; unknown metrics are
// 404, unreachable backends 503, bad parameters 400. Any other failure is a
// bare 500 and only the log carries the detail.
//
// Every body is JSON terminated by a newline. Unknown routes get
// {"error":"not found"}.
package api
