// Package config loads the ambient operator-facing settings shared by the
// unionfs and chroot-switch binaries: where to log, at what level, and
// where to expose Prometheus metrics. It never carries anything that
// affects routing, escape, or exec semantics — those are either fixed
// invariants or command-line positional arguments, never YAML. Precedence:
// environment > file > compiled-in defaults.
package config
