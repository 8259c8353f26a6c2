// Package pipeline composes the per-service processing chain and dispatches
// interceptors at their intercept points.
//
// A chain is a linked list of nodes. Each node does its work and then hands
// the exchange to the next node unless the response was completed, which is
// how any node short-circuits the rest of the chain.
package pipeline

import (
	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
)

// Handler processes an exchange.
type Handler interface {
	HandleRequest(ex *exchange.Exchange) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ex *exchange.Exchange) error

// HandleRequest implements Handler.
func (f HandlerFunc) HandleRequest(ex *exchange.Exchange) error { return f(ex) }

// Chainable is a node that can be linked to a successor.
type Chainable interface {
	Handler
	SetNext(next Handler)
}

// Link implements the successor bookkeeping of a chain node. Embed it and
// call Next at the end of HandleRequest.
type Link struct {
	next Handler
}

// SetNext implements Chainable.
func (l *Link) SetNext(next Handler) { l.next = next }

// Next hands the exchange to the successor unless the response is complete.
func (l *Link) Next(ex *exchange.Exchange) error {
	if l.next == nil || ex.ResponseComplete() {
		return nil
	}
	return l.next.HandleRequest(ex)
}

// Work is the body of a node built with Wrap.
type Work func(ex *exchange.Exchange) error

type node struct {
	Link
	work Work
}

func (n *node) HandleRequest(ex *exchange.Exchange) error {
	if err := n.work(ex); err != nil {
		return err
	}
	return n.Next(ex)
}

// Wrap builds a node running work and then next.
func Wrap(next Handler, work Work) Chainable {
	n := &node{work: work}
	n.SetNext(next)
	return n
}

// Pipe links nodes in order and returns the head. Nil nodes are skipped.
// The last node keeps whatever successor it already had.
func Pipe(nodes ...Chainable) Chainable {
	var head, tail Chainable
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if head == nil {
			head = n
		} else {
			tail.SetNext(n)
		}
		tail = n
	}
	return head
}
