// Package uploader talks to the remote publishing API. It offers a
// production HTTP client authenticated by gate password and an offline
// client that fabricates deterministic identifiers.
package uploader
