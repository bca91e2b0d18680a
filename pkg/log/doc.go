// Package log wraps zerolog with the component/node child-logger helpers
// the rest of Genesis Core uses, adapted from the teacher repo's logging
// conventions.
package log
