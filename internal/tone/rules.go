package tone

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// ErrInvalidRules is wrapped by every rule table validation failure.
var ErrInvalidRules = errors.New("invalid rule tables")

// Rules holds the static rewrite tables. A Rules value must not be mutated
// after it has been handed to NewEngine.
type Rules struct {
	Contractions    map[string]string `yaml:"contractions"`
	Expansions      map[string]string `yaml:"expansions"`
	Simplifications map[string]string `yaml:"simplifications"`
	Hedges          []string          `yaml:"hedges"`
	Intensifiers    []string          `yaml:"intensifiers"`
}

// DefaultRules returns the rule tables embedded in the binary.
func DefaultRules() (*Rules, error) {
	return LoadRules(bytes.NewReader(defaultRules))
}

// LoadRulesFile reads and validates rule tables from a YAML file.
func LoadRulesFile(path string) (*Rules, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tone: open rules %q: %w", path, err)
	}
	defer f.Close()

	rules, err := LoadRules(f)
	if err != nil {
		return nil, fmt.Errorf("tone: load rules %q: %w", path, err)
	}
	return rules, nil
}

// LoadRules decodes rule tables from r and validates them.
// Unknown top-level keys are rejected.
func LoadRules(r io.Reader) (*Rules, error) {
	rules := &Rules{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(rules); err != nil {
		return nil, fmt.Errorf("tone: decode rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

// Validate reports every malformed entry at once.
func (r *Rules) Validate() error {
	var errs []error
	errs = append(errs, validateMapping("contractions", r.Contractions)...)
	errs = append(errs, validateMapping("expansions", r.Expansions)...)
	errs = append(errs, validateMapping("simplifications", r.Simplifications)...)
	errs = append(errs, validatePhrases("hedges", r.Hedges, false)...)
	errs = append(errs, validatePhrases("intensifiers", r.Intensifiers, true)...)
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRules, errors.Join(errs...))
	}
	return nil
}

func validateKey(table, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%s: empty key", table)
	}
	if key != strings.TrimSpace(key) {
		return fmt.Errorf("%s: key %q has leading or trailing whitespace", table, key)
	}
	return nil
}

func validateMapping(table string, m map[string]string) []error {
	var errs []error
	seen := make(map[string]string, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		if err := validateKey(table, k); err != nil {
			errs = append(errs, err)
			continue
		}
		v := m[k]
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s: key %q has an empty replacement", table, k))
			continue
		}
		norm := normalizeKey(k)
		if prev, ok := seen[norm]; ok && prev != v {
			errs = append(errs, fmt.Errorf("%s: key %q conflicts with another spelling of the same key", table, k))
			continue
		}
		seen[norm] = v
	}
	return errs
}

func validatePhrases(table string, phrases []string, singleToken bool) []error {
	var errs []error
	seen := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		if err := validateKey(table, p); err != nil {
			errs = append(errs, err)
			continue
		}
		if singleToken && len(strings.Fields(p)) != 1 {
			errs = append(errs, fmt.Errorf("%s: %q must be a single token", table, p))
			continue
		}
		norm := normalizeKey(p)
		if _, ok := seen[norm]; ok {
			errs = append(errs, fmt.Errorf("%s: duplicate entry %q", table, p))
			continue
		}
		seen[norm] = struct{}{}
	}
	return errs
}
