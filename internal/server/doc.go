// Package server exposes validation, planning and export over HTTP. Request
// bodies are configuration files; nothing is read from the server's own
// filesystem unless file probes are enabled on the validator.
package server
