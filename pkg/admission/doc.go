// Package admission gates inbound requests before they reach model
// resolution. The Forwarder calls the configured Hook once per request;
// a denial short-circuits with a 401 before any queue or process state is
// touched.
package admission
