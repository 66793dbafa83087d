// Package audit relays authentication outcomes to pluggable sinks without
// blocking the request path.
//
// [Dispatcher] is a buffered async relay that either drops or blocks when
// full. Deciding which events to emit belongs to the flows; this package only
// buffers and delivers, and must not import cafeauth.
package audit
