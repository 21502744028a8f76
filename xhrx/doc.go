// Package xhrx emulates a browser-style HTTP request object
// (open/setRequestHeader/send/abort with readyState tracking and
// event dispatch) on top of a raw HTTP/1.1 transport, for host
// environments that have no native implementation of that API.
//
// Highlights
//   - Request lifecycle state machine: UNSENT → OPENED →
//     HEADERS_RECEIVED → LOADING → DONE, with browser header and
//     method validation rules, redirect chasing (bounded), abort,
//     and readystatechange/load/loadend/error/abort events.
//   - Dual execution modes: asynchronous (event-driven, transport
//     callbacks) and synchronous (Send blocks until DONE, with a
//     deadline).
//   - Streaming transport: minimal HTTP/1.1 exchange over
//     net/crypto-tls with chunked decoding, context deadlines, and
//     basic tracing headers.
//   - Observability: plug-in Logger and Meter interfaces.
//
// Quick start (async):
//
//	r := xhrx.New()
//	r.OnLoad = func(r *xhrx.Request) {
//	    fmt.Println(r.Status(), r.ResponseText())
//	}
//	if err := r.Open("GET", "http://127.0.0.1:8080/", true); err != nil { log.Fatal(err) }
//	if err := r.Send(nil); err != nil { log.Fatal(err) }
//
// Quick start (sync):
//
//	r := xhrx.New()
//	r.Open("GET", "http://127.0.0.1:8080/", false)
//	r.Send(nil) // returns once readyState == DONE
//	fmt.Println(r.Status(), r.ResponseText())
package xhrx
