// Package testutil contains helper builders and scripted collaborators used
// across tests to reduce boilerplate when constructing jobs, utterances and
// model responses and when driving calls deterministically. These helpers
// are intentionally minimal and are not intended for production usage.
package testutil
