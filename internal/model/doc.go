// Package model defines the shared data types of the VI monitor:
// static symbol reference data, decoded real-time events, and the
// rows handed to the persistence writer.
package model
