// Package predict turns feature vectors into bounded energy, mood, and
// complexity ratings. A trained linear model artifact is used when
// configured; otherwise a deterministic rule-based predictor stands in.
// Manual ratings overlay either path and always win.
package predict
