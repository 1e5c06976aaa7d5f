// Package http is the thin verification API over the license engine. It
// forwards requests into the services layer and serializes the results;
// no licensing decisions are made here.
package http
