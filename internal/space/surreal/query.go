package surreal

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/nfrund/topicspace/internal/space"
)

const table = "tuple"

// Values of the ev field. Every statement that touches a record sets ev
// explicitly so live notifications can tell a real write from bookkeeping.
const (
	evNone      = ""
	evWritten   = "written"
	evCancelled = "cancelled"
)

const (
	opWrite = "write"
	opTake  = "take"
)

// schema is applied on connect. Records are keyed by tid so a tuple id maps
// directly onto a record id.
const schema = `
DEFINE TABLE IF NOT EXISTS tuple SCHEMALESS;
DEFINE INDEX IF NOT EXISTS tuple_kind ON tuple FIELDS kind;
DEFINE INDEX IF NOT EXISTS tuple_txn ON tuple FIELDS txn;
`

// record is the stored form of a tuple. Times are unix milliseconds taken
// from the writing client's clock; zero means "never".
type record struct {
	TID        string            `json:"tid"`
	Kind       string            `json:"kind"`
	Keys       map[string]string `json:"keys"`
	Payload    string            `json:"payload"`
	Seq        int64             `json:"seq"`
	ExpiresAt  int64             `json:"expires_at"`
	Txn        string            `json:"txn"`
	TxnOp      string            `json:"txn_op"`
	TxnExpires int64             `json:"txn_expires"`
	Ev         string            `json:"ev"`
}

func (r record) tuple() space.Tuple {
	return space.Tuple{
		ID:      r.TID,
		Kind:    r.Kind,
		Keys:    r.Keys,
		Payload: []byte(r.Payload),
	}
}

func (r record) expired(now time.Time) bool {
	return r.ExpiresAt != 0 && r.ExpiresAt <= millis(now)
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

var keyPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// visibleClause selects records visible to transaction $txn ("" for none) at
// $now: unexpired, not pending in another transaction, not locked by a live
// take. A take lock whose transaction lapsed no longer hides the record.
const visibleClause = `kind = $kind
	AND (expires_at = 0 OR expires_at > $now)
	AND (
		txn = ''
		OR (txn_op = 'write' AND txn = $txn)
		OR (txn_op = 'take' AND txn != $txn AND txn_expires <= $now)
	)`

// matchQuery builds the WHERE clause and parameters for tmpl. Key names are
// interpolated, so they are restricted to plain identifiers.
func matchQuery(tmpl space.Template, txnID string, now time.Time) (string, map[string]any, error) {
	if tmpl.Kind == "" {
		return "", nil, space.ErrInvalidTuple
	}

	params := map[string]any{
		"kind": tmpl.Kind,
		"txn":  txnID,
		"now":  millis(now),
	}

	names := make([]string, 0, len(tmpl.Keys))
	for k, v := range tmpl.Keys {
		if v != "" {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(visibleClause)
	for i, k := range names {
		if !keyPattern.MatchString(k) {
			return "", nil, fmt.Errorf("%w: key %q", space.ErrInvalidTuple, k)
		}
		p := fmt.Sprintf("k%d", i)
		fmt.Fprintf(&b, "\n\tAND keys.%s = $%s", k, p)
		params[p] = tmpl.Keys[k]
	}
	return b.String(), params, nil
}

func validateKeys(keys map[string]string) error {
	for k := range keys {
		if !keyPattern.MatchString(k) {
			return fmt.Errorf("%w: key %q", space.ErrInvalidTuple, k)
		}
	}
	return nil
}

// decodeResult converts a live notification payload into a record. The
// driver hands results over as generic maps, sometimes keyed by interface{}.
func decodeResult(v any) (record, error) {
	var r record
	raw, err := json.Marshal(stringKeys(v))
	if err != nil {
		return r, err
	}
	err = json.Unmarshal(raw, &r)
	return r, err
}

func stringKeys(v any) any {
	switch m := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = stringKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(m))
		for i, val := range m {
			out[i] = stringKeys(val)
		}
		return out
	default:
		return v
	}
}
