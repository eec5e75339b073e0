// Package runner drives data acquisition for a capture session.
//
// A Runner writes one file per configured port label into the session's
// output directory while it is running. Two implementations exist: Dummy,
// which writes synthetic samples and is used in debug mode, and Process,
// which supervises an external acquisition program that talks to the
// hardware. The package also provides DeviceLister implementations used to
// answer list_devices.
package runner
