// Package ciutil centralizes environment detection for tests that need
// external services.
//
// Integration tests look up their Postgres URL and Redis address here. Outside
// CI a missing variable skips the test; inside CI it fails it, so a broken
// pipeline cannot pass by silently skipping its integration suite.
package ciutil
