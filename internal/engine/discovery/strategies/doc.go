// Package strategies registers the built-in daemon discovery strategies.
// Importing it for its side effects is enough to make them available to
// discovery.Registered.
package strategies
