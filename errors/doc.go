// Package errors implements the error taxonomy for the Flowline pipeline
// engine.
//
// # Classification
//
// Every error that crosses a package boundary carries one of four classes:
//
//   - Transient: retryable (timeouts, lost connections). The resilience
//     layer retries these with exponential backoff before giving up.
//   - Permanent: data-dependent (malformed record, validation failure).
//     Never retried; the record is routed to the dead-letter accumulator.
//   - Config: structural assembly errors (unknown stage name, malformed
//     parameters). Fatal at pipeline assembly time.
//   - Interface: a component lacks a required capability (nil factory,
//     factory returning a nil stage). Fatal at construction time.
//
// # Usage
//
// Wrap errors at package boundaries with context:
//
//	if err := json.Unmarshal(raw, &cfg); err != nil {
//	    return errors.WrapConfig(err, "Registry", "Create", "parse params")
//	}
//
// Check classification where handling decisions are made:
//
//	if errors.IsPermanent(err) {
//	    deadLetter.Append(rec)
//	}
//
// Propagation policy: a single record's permanent failure never aborts the
// stream; only Config/Interface errors abort pipeline startup.
package errors
