// Package refdata loads the static symbol table for the trading day: every
// listed KOSPI/KOSDAQ symbol with its name, board and price limits. The
// table comes from a daily CSV cache when present, otherwise from the t8430
// REST call, and is immutable once loaded.
package refdata
