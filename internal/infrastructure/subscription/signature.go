// Package subscription implements the live-query coordinator of Aula
// Insights. It deduplicates store subscriptions by query signature, shares
// one underlying stream across every attached consumer, replays warm
// snapshots synchronously, and reclaims the stream when the last consumer
// detaches.
package subscription

import (
	"fmt"
	"io"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/aula-hub/aula-insights/internal/domain/document"
)

// Signature is the deterministic identity of a live query. Two queries with
// equal signatures share one underlying store subscription; the digest is
// collision-resistant, so distinct queries colliding is a bug, not a
// tolerated state.
type Signature string

// String returns the hex digest form of the signature.
func (s Signature) String() string {
	return string(s)
}

// SignatureOf derives the signature for a query. Generation is pure and
// total: any query value, valid or not, digests to a well-defined signature.
// Filter declaration order is canonicalized away; ordering clauses and the
// caller-supplied dependency tuple are significant in their declared order.
func SignatureOf(q document.Query) Signature {
	h, _ := blake2b.New256(nil)

	writeToken(h, "c", q.Collection)
	for _, f := range q.CanonicalFilters() {
		writeToken(h, "f", f.Field)
		writeToken(h, "op", string(f.Operator))
		writeToken(h, "v", renderValue(f.Value))
	}
	for _, o := range q.OrderBy {
		writeToken(h, "o", o.Field)
		writeToken(h, "dir", string(o.Direction))
	}
	writeToken(h, "l", strconv.Itoa(q.Limit))
	for _, dep := range q.Deps {
		writeToken(h, "d", dep)
	}

	return Signature(fmt.Sprintf("%x", h.Sum(nil)))
}

// writeToken writes a tagged, length-prefixed token so adjacent tokens can
// never run together and collide ("ab"+"c" vs "a"+"bc").
func writeToken(w io.Writer, tag, val string) {
	fmt.Fprintf(w, "%s\x1f%d\x1f%s\x1f", tag, len(val), val)
}

// renderValue produces a deterministic textual form for a filter value.
// fmt prints map keys in sorted order, so composite values stay stable.
func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "nil"
	case string:
		return "s:" + t
	case bool:
		return "b:" + strconv.FormatBool(t)
	case int:
		return "i:" + strconv.Itoa(t)
	case int64:
		return "i:" + strconv.FormatInt(t, 10)
	case float64:
		return "n:" + strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("x:%T:%v", t, t)
	}
}
