// Package database manages the optional Postgres connection pool used to
// persist VI windows and the trade ticks observed inside them.
package database
