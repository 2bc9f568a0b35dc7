// Package workflow runs keyword sessions end to end.
//
// Engine owns the session lifecycle: it materializes and validates sources on
// creation, then drives a run chunk by chunk through the source reader, the
// analyzer and the result accumulator, checkpointing the cursor on the session
// record after every chunk. Runs are exclusive per session; an in-process map
// rejects concurrent runs inside one process and a flock file under the data
// directory rejects them across processes. A run that stops early (cancelled
// context or crash) leaves the session in processing with its checkpoint so a
// later Run resumes where it stopped.
//
// Progress is reported as a finite channel of events.Event values that closes
// after exactly one terminal event (completed, failed or cancelled). Every
// event is also published to the shared events.Hub when one is configured.
package workflow
