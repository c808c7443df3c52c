// Package canonical normalizes raw change records into stable fingerprints.
// The canonical form is independent of source column order and of
// cross-system binary representation differences, so schema drift that only
// adds or reorders columns never changes the hash of unaffected rows.
package canonical

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dougwmorrow/open-sc/internal/core/apperror"
	"github.com/dougwmorrow/open-sc/internal/domain/dimension"
)

const (
	// tokenSep joins canonical tokens. It is escaped out of every value
	// token, so it cannot occur inside the token alphabet.
	tokenSep = "\x1f"

	// nullToken is the reserved sentinel for NULL/absent values. NUL bytes
	// are escaped out of legal values, so the sentinel can never collide
	// with the empty string or any data value.
	nullToken = "\x00null\x00"
)

// Policy configures value normalization.
type Policy struct {
	// DecimalPlaces is the fixed rounding precision for floating-point
	// values. Avoids binary-representation mismatches between sources.
	DecimalPlaces int32

	// TimestampPrecision truncates timestamps before formatting. All
	// timestamps are normalized to UTC.
	TimestampPrecision time.Duration
}

// DefaultPolicy matches the common warehouse convention: 4 decimal places,
// millisecond timestamps.
func DefaultPolicy() Policy {
	return Policy{
		DecimalPlaces:      4,
		TimestampPrecision: time.Millisecond,
	}
}

// PrecisionByName maps a configuration value to a truncation precision.
// Unknown names fall back to the default.
func PrecisionByName(name string) time.Duration {
	switch name {
	case "second":
		return time.Second
	case "microsecond":
		return time.Microsecond
	case "millisecond", "":
		return time.Millisecond
	default:
		return time.Millisecond
	}
}

// Canonicalizer turns an attribute set into its canonical form and fingerprint.
// Deterministic and total over well-typed input; pure, safe for parallel use.
type Canonicalizer struct {
	policy Policy
	hasher Hasher
}

// New creates a Canonicalizer with the given policy and hash algorithm.
func New(policy Policy, hasher Hasher) *Canonicalizer {
	if hasher == nil {
		hasher = XXHasher{}
	}
	return &Canonicalizer{policy: policy, hasher: hasher}
}

// Canonicalize returns the normalized attribute set and its content hash.
// Attribute names are sorted lexicographically; every value becomes a
// canonical string token; tokens are joined with a separator escaped out of
// the token alphabet. Fails with a ValidationError when a value cannot be
// canonicalized.
func (c *Canonicalizer) Canonicalize(attrs dimension.Attributes) (dimension.Attributes, string, error) {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	normalized := make(dimension.Attributes, len(attrs))
	tokens := make([]string, 0, len(names))
	for _, name := range names {
		normValue, token, err := c.canonicalValue(attrs[name])
		if err != nil {
			return nil, "", apperror.NewValidation("value cannot be canonicalized").
				WithDetail("attribute", name).
				WithCause(err)
		}
		normalized[name] = normValue
		tokens = append(tokens, escape(name)+"="+token)
	}

	joined := strings.Join(tokens, tokenSep)
	hash := FormatHash(c.hasher.Sum64([]byte(joined)))
	return normalized, hash, nil
}

// HashOf is a convenience for callers that only need the fingerprint.
func (c *Canonicalizer) HashOf(attrs dimension.Attributes) (string, error) {
	_, h, err := c.Canonicalize(attrs)
	return h, err
}

// canonicalValue maps one value to its normalized form and string token.
func (c *Canonicalizer) canonicalValue(v any) (any, string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nullToken, nil
	case string:
		return t, escape(t), nil
	case bool:
		if t {
			return t, "TRUE", nil
		}
		return t, "FALSE", nil
	case int:
		return t, strconv.FormatInt(int64(t), 10), nil
	case int32:
		return t, strconv.FormatInt(int64(t), 10), nil
	case int64:
		return t, strconv.FormatInt(t, 10), nil
	case float32:
		return c.canonicalDecimal(decimal.NewFromFloat32(t))
	case float64:
		return c.canonicalDecimal(decimal.NewFromFloat(t))
	case decimal.Decimal:
		return c.canonicalDecimal(t)
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return nil, "", fmt.Errorf("parse numeric %q: %w", t.String(), err)
		}
		// Integral JSON numbers keep integer tokens so 42 and 42.0 collide,
		// matching the fixed-precision rule for everything else.
		return c.canonicalDecimal(d)
	case time.Time:
		norm := t.UTC().Truncate(c.policy.TimestampPrecision)
		return norm, norm.Format(c.timestampLayout()), nil
	case []byte:
		// Opaque binary survives as-is; token is the hex form.
		return t, fmt.Sprintf("0x%x", t), nil
	default:
		return nil, "", fmt.Errorf("unsupported attribute type %T", v)
	}
}

func (c *Canonicalizer) canonicalDecimal(d decimal.Decimal) (any, string, error) {
	rounded := d.Round(c.policy.DecimalPlaces)
	return rounded, rounded.StringFixed(c.policy.DecimalPlaces), nil
}

// timestampLayout derives a fixed-width layout from the precision so equal
// instants always render identically (RFC3339Nano trims trailing zeros and
// would not).
func (c *Canonicalizer) timestampLayout() string {
	switch {
	case c.policy.TimestampPrecision >= time.Second:
		return "2006-01-02T15:04:05Z"
	case c.policy.TimestampPrecision >= time.Millisecond:
		return "2006-01-02T15:04:05.000Z"
	case c.policy.TimestampPrecision >= time.Microsecond:
		return "2006-01-02T15:04:05.000000Z"
	default:
		return "2006-01-02T15:04:05.000000000Z"
	}
}

var escaper = strings.NewReplacer(
	"\\", "\\\\",
	tokenSep, "\\u001f",
	"\x00", "\\u0000",
)

// escape removes the separator and the NULL sentinel alphabet from a token.
func escape(s string) string {
	return escaper.Replace(s)
}
