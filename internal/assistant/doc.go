// Package assistant asks a hosted language model to interpret a user's
// request about one device.
//
// The model receives a fixed persona context followed by a JSON prompt
// {object, dialogue, history} and must answer with a single JSON Decision.
// Answers that are not valid JSON are reported as ErrMalformedReply so the
// caller can surface a structured error instead of failing opaquely.
package assistant
