package chat

import (
	"context"
	"sync"
)

// ReceiptKind distinguishes delivered from read acknowledgments.
type ReceiptKind int

const (
	ReceiptDelivered ReceiptKind = iota
	ReceiptRead
)

// String returns the string representation of the kind.
func (k ReceiptKind) String() string {
	if k == ReceiptRead {
		return "read"
	}
	return "delivered"
}

// Receipt correlates an acknowledgment to a previously sent message.
type Receipt struct {
	MessageID string
	DialogID  string
	UserID    int
}

type waiterKey struct {
	messageID string
	kind      ReceiptKind
}

// receiptTracker is an explicit waiter table keyed by message id. A waiter
// is fulfilled by the matching receipt or resolved by the caller's timeout;
// it never hangs. Receipts with no waiter still reach the generic listener
// through the dispatcher.
type receiptTracker struct {
	mu      sync.Mutex
	waiters map[waiterKey]chan Receipt
}

func newReceiptTracker() *receiptTracker {
	return &receiptTracker{waiters: make(map[waiterKey]chan Receipt)}
}

// expect registers interest in the given receipt kinds for a message id.
func (t *receiptTracker) expect(messageID string, kinds ...ReceiptKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, kind := range kinds {
		key := waiterKey{messageID: messageID, kind: kind}
		if _, ok := t.waiters[key]; !ok {
			t.waiters[key] = make(chan Receipt, 1)
		}
	}
}

// await blocks until the expected receipt arrives or ctx expires. An absent
// expectation is registered implicitly.
func (t *receiptTracker) await(ctx context.Context, messageID string, kind ReceiptKind) (Receipt, error) {
	key := waiterKey{messageID: messageID, kind: kind}

	t.mu.Lock()
	ch, ok := t.waiters[key]
	if !ok {
		ch = make(chan Receipt, 1)
		t.waiters[key] = ch
	}
	t.mu.Unlock()

	select {
	case r := <-ch:
		t.mu.Lock()
		delete(t.waiters, key)
		t.mu.Unlock()
		return r, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.waiters, key)
		t.mu.Unlock()
		return Receipt{}, ErrReceiptTimeout
	}
}

// resolve fulfills a matching waiter, reporting whether one existed. The
// entry stays until the awaiter consumes it, so a receipt that beats the
// await is not lost.
func (t *receiptTracker) resolve(kind ReceiptKind, r Receipt) bool {
	key := waiterKey{messageID: r.MessageID, kind: kind}

	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.waiters[key]
	if !ok {
		return false
	}

	select {
	case ch <- r:
	default:
	}
	return true
}
