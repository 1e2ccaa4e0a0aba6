// Package events defines the typed session event contract.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - session.*
//   - response.*
//   - input.*
//   - tool.*
//   - turn.*
//
// Semantics used across the package:
//
//   - Chunk: binary audio payload with a sequence number.
//   - Partial: append-only text piece emitted in stream order; consumers
//     concatenate partials until the turn boundary.
//
// session events
//
//   - SessionOpened (session.opened): the engine channel is open and
//     configured.
//   - SessionClosed (session.closed): the engine channel was torn down.
//     Emitted at most once per opened session.
//   - SessionFailed (session.failed): connection or transport failure.
//
// response events
//
//   - Content (response.content): partial model text.
//   - AudioChunk (response.audio_chunk): decoded 24 kHz PCM from the model.
//   - OutputTranscription (response.output_transcription): partial
//     transcript of the model's speech.
//
// input events
//
//   - InputTranscription (input.transcription): partial transcript of the
//     user's speech. Later partials may extend earlier ones.
//
// tool events
//
//   - ToolCall (tool.call): the engine requests one or more tool
//     invocations. Every invocation must be acknowledged exactly once.
//
// turn events
//
//   - TurnComplete (turn.complete): the model finished its turn. All audio
//     for the turn has been delivered before this event.
//   - Interrupted (turn.interrupted): the model's output was cut off, e.g.
//     by user barge-in. Queued playback must be discarded.
package events
