// Package testutil contains helpers used across tests to reduce boilerplate
// when scripting model answers and building conversations. They are not
// intended for production usage.
package testutil
