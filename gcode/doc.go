// Package gcode holds the job data model streamed by the driver and the
// default preprocessor that turns a raw instruction stream into it.
//
// A job is an ordered list of Commands. Each Command carries an opaque
// payload and, optionally, the prefix of a textual reply the device must
// send before the next command may go out. The driver consumes the list
// through a Queue, whose cursor marks the next unsent command.
//
// The preprocessor is an upstream collaborator of the driver: any type
// implementing Preprocessor can be plugged in. LinePreprocessor is the
// default; it numbers and checksums every command so that a device resend
// request ("Last Line: N") maps directly onto queue index N+1.
package gcode
