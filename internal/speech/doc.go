// Package speech turns recorded audio into text.
//
// CommandEngine runs an external speech-to-text program once per clip.
// Pool puts a fixed number of workers in front of any Transcriber so that
// transcription never runs on the goroutine that received the audio and
// never exceeds the configured concurrency.
package speech
