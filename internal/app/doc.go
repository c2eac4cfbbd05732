// Package app contains the core application logic. It defines the App
// struct, its configuration, and one method per command, decoupled from
// the CLI that fills in the configuration.
package app
