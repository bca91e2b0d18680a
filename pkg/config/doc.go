// Package config loads the explicit Config value every constructor in
// Genesis Core is threaded with, replacing the ambient configuration
// singletons the Design Notes call out, per spec.md §9.
package config
