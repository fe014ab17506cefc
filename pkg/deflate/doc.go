// Package deflate externalizes large binary payloads out of Transaction
// graphs and puts them back.
//
// Deflate walks slices and string-keyed maps and replaces every qualifying
// binary leaf with a handle {handleKey: sha256hex}, recording the bytes in
// a trap keyed by hash. Identical bytes anywhere in a batch collapse into
// one trap entry. Inflate performs the mirror walk, resolving handles from
// the trap first and then from a blob.Store. Structs, times and pointers
// are leaves and are never descended into.
//
// Neither walk mutates its input: containers on the path to a replaced
// leaf are copied, everything else is shared.
package deflate
