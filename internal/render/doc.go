// Package render turns chiptune source files into cached PCM artifacts.
//
// Three engines cover the render strategies: an in-process deterministic
// softsynth, an external emulator subprocess, and a hardware capture path
// that drives a real chip over REST and receives PCM over UDP. The
// orchestrator picks the first available engine in configured preference
// order, writes the canonical WAV artifact, verifies it against its own
// header, records cache identity in a sidecar, and registers the asset in
// the availability manifest. Derived encodes (flac, mp3) always come from
// the WAV artifact, never from a second render.
package render
