// Package httpapi exposes the experiment over HTTP.
//
// Entity endpoints (/node, /vector, /info, /transmission, /transformation)
// take flat form or query parameters and answer with a JSON envelope:
//
//	200 {"status": "success", "<key>": <record or list>}
//	403 {"status": "error", "error_type": "<class>", "message": "..."}
//	403 {"status": "empty"}
//
// The platform webhook (/notifications) only enqueues; the worker applies
// the events later.
package httpapi
