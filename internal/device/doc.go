// Package device describes how a capture session drives the acquisition
// hardware: which device to use, its voltage ranges and sampling rate, the
// shunt resistor on each measured port, and the labels that name the per-port
// output files.
package device
