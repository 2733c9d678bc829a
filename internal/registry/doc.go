// Package registry holds the static device catalog for the BLE bridge.
//
// This package manages:
//   - The immutable alias → {address, characteristic catalog} mapping
//     loaded once from configuration
//   - Case normalization of device addresses and aliases
//   - Resolution of partial characteristic references (name, uuid, or
//     handle) into canonical references
//
// # Resolution
//
// Inbound commands may address a characteristic by any combination of
// symbolic name, UUID, and numeric handle. The registry normalizes these
// once, before any execution logic runs:
//
//  1. A Selector is built from the supplied fields; the match field is
//     chosen by fixed priority name → uuid → handle.
//  2. Resolve overlays the selector with the first catalog entry sharing
//     the match field, filling in whichever fields were missing.
//
// Two commands naming the same catalog entry by different fields therefore
// resolve to the identical canonical Ref, and the executor never needs to
// branch on which field was originally supplied.
//
// # Thread Safety
//
// The registry is immutable after New returns; all methods are safe for
// concurrent use without locking.
package registry
