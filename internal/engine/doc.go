// Package engine provides the asynchronous task execution engine. It
// persists task records, drives them through the pending/running/terminal
// lifecycle against the worker pool, and publishes lifecycle events for
// real-time subscribers.
package engine
