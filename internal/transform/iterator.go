package transform

import "github.com/minasoft/hl7-gateway/internal/hl7"

// ResultIterator is a forward-only, lazily evaluated view over many
// messages: each message is transformed when Next advances to it, not up
// front. When Next returns false, Err distinguishes exhaustion from a
// terminal error.
type ResultIterator struct {
	engine  *Engine
	ruleSet *RuleSet
	msgs    []*hl7.Message

	pos     int
	current Result
	err     error
	closed  bool
}

// Iterate returns a lazy iterator over the given messages.
func (e *Engine) Iterate(msgs []*hl7.Message, rs *RuleSet) *ResultIterator {
	return &ResultIterator{engine: e, ruleSet: rs, msgs: msgs}
}

// Next advances to the next message and reports whether a result is
// available.
func (it *ResultIterator) Next() bool {
	if it.closed || it.err != nil || it.pos >= len(it.msgs) {
		return false
	}
	res, err := it.engine.Transform(it.msgs[it.pos], it.ruleSet)
	it.pos++
	if err != nil {
		it.err = err
		return false
	}
	it.current = res
	return true
}

// Result returns the current transformation outcome. Only valid after Next
// has returned true.
func (it *ResultIterator) Result() Result {
	return it.current
}

// Err returns the first terminal error encountered while iterating.
func (it *ResultIterator) Err() error {
	return it.err
}

// Close stops iteration early. Safe to call multiple times.
func (it *ResultIterator) Close() error {
	it.closed = true
	return nil
}
