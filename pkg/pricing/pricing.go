// Package pricing holds the read-only price catalog for completions and images
// and turns usage counts into exact costs.
package pricing

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"promptkit/pkg/precision"
)

// CostDecimals is the scale every computed cost is truncated to.
const CostDecimals = 10

// Completion rates are quoted per 10^3 tokens.
const tokensPerUnitExp = 3

const (
	KindCompletion = "completion"
	KindImage      = "image"
)

var (
	// ErrPriceNotFound is matched by every *PriceNotFoundError.
	ErrPriceNotFound = errors.New("price not found")
	// ErrNegativeUsage is returned when a token count is negative.
	ErrNegativeUsage = errors.New("usage counts must be non-negative")
)

//go:embed prices.yaml
var defaultPrices []byte

// PriceNotFoundError reports a lookup key that is absent from the table.
type PriceNotFoundError struct {
	Kind string
	Key  string
}

func (e *PriceNotFoundError) Error() string {
	return fmt.Sprintf("price information not found for %s key: %s", e.Kind, e.Key)
}

// Is makes errors.Is(err, ErrPriceNotFound) hold for any *PriceNotFoundError.
func (e *PriceNotFoundError) Is(target error) bool { return target == ErrPriceNotFound }

// CompletionPrice is the USD rate per 1000 input and output tokens.
type CompletionPrice struct {
	Input  decimal.Decimal
	Output decimal.Decimal
}

// Table is an immutable exact-match price catalog. It is safe for concurrent use.
type Table struct {
	completion map[string]CompletionPrice
	images     map[string]decimal.Decimal
}

// New builds a Table from copies of the given maps.
func New(completion map[string]CompletionPrice, images map[string]decimal.Decimal) *Table {
	t := &Table{
		completion: make(map[string]CompletionPrice, len(completion)),
		images:     make(map[string]decimal.Decimal, len(images)),
	}
	for k, v := range completion {
		t.completion[k] = v
	}
	for k, v := range images {
		t.images[k] = v
	}
	return t
}

var defaultTable = sync.OnceValue(func() *Table {
	t, err := parse(defaultPrices)
	if err != nil {
		panic("pricing: embedded price table is invalid: " + err.Error())
	}
	return t
})

// Default returns the built-in price table.
func Default() *Table {
	return defaultTable()
}

// Load parses a YAML price table.
func Load(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read price table: %w", err)
	}
	return parse(data)
}

// LoadFile parses the YAML price table at path.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open price table: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return Load(f)
}

// Merge returns a new table holding base's entries overridden by override's.
// Either argument may be nil.
func Merge(base, override *Table) *Table {
	merged := New(nil, nil)
	for _, t := range []*Table{base, override} {
		if t == nil {
			continue
		}
		for k, v := range t.completion {
			merged.completion[k] = v
		}
		for k, v := range t.images {
			merged.images[k] = v
		}
	}
	return merged
}

// ImageKey builds the composite lookup key for an image price.
func ImageKey(model, quality, size string) string {
	if quality == "" {
		return model + "|" + size
	}
	return model + "|" + quality + "|" + size
}

// CompletionPrice returns the rate for model.
func (t *Table) CompletionPrice(model string) (CompletionPrice, error) {
	p, ok := t.completion[model]
	if !ok {
		return CompletionPrice{}, &PriceNotFoundError{Kind: KindCompletion, Key: model}
	}
	return p, nil
}

// ImagePrice returns the per-image rate stored under key.
func (t *Table) ImagePrice(key string) (decimal.Decimal, error) {
	p, ok := t.images[key]
	if !ok {
		return decimal.Decimal{}, &PriceNotFoundError{Kind: KindImage, Key: key}
	}
	return p, nil
}

// CompletionCost prices a completion:
// outputTokens/1000 × output rate + inputTokens/1000 × input rate,
// truncated to CostDecimals places.
func (t *Table) CompletionCost(model string, inputTokens, outputTokens int) (precision.Decimal, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return precision.Decimal{}, ErrNegativeUsage
	}
	p, err := t.CompletionPrice(model)
	if err != nil {
		return precision.Decimal{}, err
	}

	output := perThousand(outputTokens).Mul(p.Output)
	input := perThousand(inputTokens).Mul(p.Input)
	return precision.New(output.Add(input), precision.WithDecimals(CostDecimals))
}

// ImageCost prices a single generated image.
func (t *Table) ImageCost(model, size, quality string) (precision.Decimal, error) {
	p, err := t.ImagePrice(ImageKey(model, quality, size))
	if err != nil {
		return precision.Decimal{}, err
	}
	return precision.New(p, precision.WithDecimals(CostDecimals))
}

// Models lists the completion models in the table, sorted.
func (t *Table) Models() []string {
	return sortedKeys(t.completion)
}

// ImageKeys lists the image price keys in the table, sorted.
func (t *Table) ImageKeys() []string {
	return sortedKeys(t.images)
}

func perThousand(tokens int) decimal.Decimal {
	return decimal.NewFromInt(int64(tokens)).Shift(-tokensPerUnitExp)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// rate decodes a YAML scalar straight into a decimal so that table values
// never pass through float64.
type rate decimal.Decimal

func (r *rate) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: rate must be a scalar", node.Line)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: invalid rate %q: %w", node.Line, node.Value, err)
	}
	if d.IsNegative() {
		return fmt.Errorf("line %d: rate %q is negative", node.Line, node.Value)
	}
	*r = rate(d)
	return nil
}

type document struct {
	Completion map[string]struct {
		Input  *rate `yaml:"input"`
		Output *rate `yaml:"output"`
	} `yaml:"completion"`
	Images map[string]rate `yaml:"images"`
}

func parse(data []byte) (*Table, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse price table: %w", err)
	}

	t := New(nil, nil)
	for model, entry := range doc.Completion {
		if entry.Input == nil || entry.Output == nil {
			return nil, fmt.Errorf("completion price for %q needs both input and output", model)
		}
		t.completion[model] = CompletionPrice{
			Input:  decimal.Decimal(*entry.Input),
			Output: decimal.Decimal(*entry.Output),
		}
	}
	for key, r := range doc.Images {
		t.images[key] = decimal.Decimal(r)
	}
	return t, nil
}
