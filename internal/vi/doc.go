// Package vi owns the subscription lifecycle of symbols under volatility
// interruption. The Manager is the single mutator of the active-symbol
// registry: a VI trigger activates a trade-tick subscription for a fixed
// window, the window timer releases it, and a reconnect replays whatever is
// still active.
package vi
