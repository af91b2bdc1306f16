// Package cancel implements cooperative cancellation for long-running build
// work. A Source hands out Tokens; cancelling the source is a single atomic
// increment that invalidates every token it has issued, no matter how many
// exist or which goroutines hold them. Tokens are plain values: copying one
// is free and checking one never blocks.
//
// This is deliberately not context.Context. Workers here poll at safe points
// (between nodes, between render steps) rather than selecting on a done
// channel, and a whole invocation's worth of tokens must be revocable in
// O(1) without tracking them.
package cancel

import (
	"errors"
	"sync/atomic"
)

// ErrCancelled reports that the operation observed a cancelled token. Wrap
// it with fmt.Errorf and %w to add call-site detail; errors.Is still finds
// it anywhere up the chain.
var ErrCancelled = errors.New("operation cancelled")

// Source issues Tokens and cancels them in bulk. Each Token snapshots the
// source's generation counter; Cancel bumps the counter, so every earlier
// snapshot becomes stale at once. The zero value is ready to use.
type Source struct {
	gen    atomic.Uint64
	closed atomic.Bool
}

// NewSource returns a fresh Source with no cancelled generations.
func NewSource() *Source {
	return &Source{}
}

// Token returns a token tied to the source's current generation. The token
// stays valid until Cancel or Close is called on the source.
func (s *Source) Token() Token {
	return Token{src: s, gen: s.gen.Load()}
}

// Cancel invalidates every token issued so far. Tokens issued afterwards
// start fresh, so a source can be reused across cycles (cancel the previous
// cycle, hand new tokens to the next). Safe to call from any goroutine.
func (s *Source) Cancel() {
	s.gen.Add(1)
}

// Close marks the source permanently cancelled: all tokens it ever issued,
// and any issued later, report cancelled. Owners should defer Close when the
// request scope that created the source unwinds, so cancellation propagates
// on error paths that never reach an explicit Cancel. Idempotent.
func (s *Source) Close() {
	s.closed.Store(true)
}

// Token is a point-in-time cancellation check. The zero value is never
// cancelled, same as NeverCancels.
type Token struct {
	src *Source
	gen uint64
	// flags are checked before the source, most recently combined first.
	flags []*Flag
}

// IsCancelled reports whether any combined flag is set, the source was
// closed, or the source has been cancelled since this token was issued.
// Flags are re-read on every call: clearing a flag un-cancels a token that
// was cancelled only through that flag.
func (t Token) IsCancelled() bool {
	for _, f := range t.flags {
		if f.Get() {
			return true
		}
	}
	if t.src == nil {
		return false
	}
	return t.src.closed.Load() || t.src.gen.Load() > t.gen
}

// CheckCancellation returns ErrCancelled if the token is cancelled, nil
// otherwise. Intended for the top of worker loops:
//
//	if err := tok.CheckCancellation(); err != nil {
//		return err
//	}
func (t Token) CheckCancellation() error {
	if t.IsCancelled() {
		return ErrCancelled
	}
	return nil
}

// CombineWithFlag returns a token that is cancelled while f is set or the
// receiver is cancelled. The receiver is unchanged. The flag is consulted
// first and stays live, so external kill switches (a failure in a sibling
// worker, a user interrupt latch) can be flipped on and off independently of
// the source.
func (t Token) CombineWithFlag(f *Flag) Token {
	flags := make([]*Flag, 0, len(t.flags)+1)
	flags = append(flags, f)
	flags = append(flags, t.flags...)
	return Token{src: t.src, gen: t.gen, flags: flags}
}

// Flag is a boolean shared between goroutines, meant to be OR-composed into
// tokens with CombineWithFlag.
type Flag struct {
	v atomic.Bool
}

// NewFlag returns a cleared flag.
func NewFlag() *Flag {
	return &Flag{}
}

// Set raises the flag; combined tokens report cancelled while it stays up.
func (f *Flag) Set() {
	f.v.Store(true)
}

// Clear lowers the flag.
func (f *Flag) Clear() {
	f.v.Store(false)
}

// Get reports the current state of the flag.
func (f *Flag) Get() bool {
	return f.v.Load()
}

var neverSource = NewSource()

// NeverCancels returns a token that always reports not cancelled. Use it
// where an API requires a token but the caller has no cancellation scope,
// such as one-shot CLI invocations.
func NeverCancels() Token {
	return neverSource.Token()
}

// IsCancelled reports whether err is, or wraps, ErrCancelled. It lets
// callers separate "the user stopped the build" from real failures without
// threading a token through.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
