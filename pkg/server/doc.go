// Package server wires the HTTP surface: a gorilla/mux router behind
// request logging, holding the stores and services the endpoint
// handlers need. Handlers live in the endpoints subpackage.
package server
