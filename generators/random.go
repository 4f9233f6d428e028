package generators

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	mathrand "math/rand"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// sampleSource abstracts the random number generator used by the random
// payload generator.
type sampleSource interface {
	Float64() (float64, error)
	Int63() (int64, error)
}

// pseudoSource wraps math/rand to provide deterministic pseudo random numbers.
type pseudoSource struct {
	rng *mathrand.Rand
}

func newPseudoSource(seed *int64) *pseudoSource {
	var src mathrand.Source
	if seed != nil {
		src = mathrand.NewSource(*seed)
	} else {
		src = mathrand.NewSource(time.Now().UnixNano())
	}
	return &pseudoSource{rng: mathrand.New(src)}
}

func (s *pseudoSource) Float64() (float64, error) {
	return s.rng.Float64(), nil
}

func (s *pseudoSource) Int63() (int64, error) {
	return s.rng.Int63(), nil
}

// secureSource uses crypto/rand to provide cryptographically strong
// randomness.
type secureSource struct{}

func (secureSource) Float64() (float64, error) {
	v, err := secureSource{}.Int63()
	if err != nil {
		return 0, err
	}
	return float64(v) / float64(math.MaxInt64), nil
}

func (secureSource) Int63() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("secure source: %w", err)
	}
	// Mask the sign bit to keep the value in the positive range.
	val := binary.BigEndian.Uint64(buf[:]) & math.MaxInt64
	return int64(val), nil
}

func newSampleSource(source string, seed *int64) (sampleSource, error) {
	switch strings.TrimSpace(strings.ToLower(source)) {
	case "", "pseudo", "math":
		return newPseudoSource(seed), nil
	case "secure", "crypto":
		return secureSource{}, nil
	default:
		return nil, fmt.Errorf("unknown random source %q", source)
	}
}

func floatInRange(src sampleSource, min, max float64) (float64, error) {
	if min == max {
		return min, nil
	}
	if max < min {
		return 0, fmt.Errorf("invalid float range [%f, %f]", min, max)
	}
	sample, err := src.Float64()
	if err != nil {
		return 0, err
	}
	return min + (max-min)*sample, nil
}

func intInRange(src sampleSource, min, max int64) (int64, error) {
	if min == max {
		return min, nil
	}
	if max < min {
		return 0, fmt.Errorf("invalid integer range [%d, %d]", min, max)
	}
	span := max - min + 1
	if span <= 0 {
		return 0, fmt.Errorf("integer range overflow for [%d, %d]", min, max)
	}
	// Rejection sampling keeps the distribution uniform across the span.
	limit := (math.MaxInt64 / span) * span
	for {
		value, err := src.Int63()
		if err != nil {
			return 0, err
		}
		if value < limit {
			return min + value%span, nil
		}
	}
}

func boolWithProbability(src sampleSource, probability float64) (bool, error) {
	if probability <= 0 {
		return false, nil
	}
	if probability >= 1 {
		return true, nil
	}
	sample, err := src.Float64()
	if err != nil {
		return false, err
	}
	return sample < probability, nil
}

func stringFromAlphabet(src sampleSource, length int, alphabet []rune) (string, error) {
	if length <= 0 {
		return "", nil
	}
	if len(alphabet) == 0 {
		return "", fmt.Errorf("alphabet must not be empty")
	}
	builder := strings.Builder{}
	builder.Grow(length * 2)
	for i := 0; i < length; i++ {
		idx, err := intInRange(src, 0, int64(len(alphabet)-1))
		if err != nil {
			return "", err
		}
		builder.WriteRune(alphabet[idx])
	}
	return builder.String(), nil
}

const defaultAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type randomField struct {
	name        string
	kind        string
	min         float64
	max         float64
	intMin      int64
	intMax      int64
	probability float64
	length      int
	alphabet    []rune
	places      int32
}

type randomGenerator struct {
	id     string
	source sampleSource
	fields []randomField
}

func newRandomGenerator(instanceID string, settings map[string]interface{}) (Generator, error) {
	sourceName, err := getString(settings, "source", "")
	if err != nil {
		return nil, err
	}
	var seed *int64
	if settings != nil && settings["seed"] != nil {
		value, err := getInt(settings, "seed", 0)
		if err != nil {
			return nil, err
		}
		seed = &value
	}
	src, err := newSampleSource(sourceName, seed)
	if err != nil {
		return nil, err
	}

	rawFields, err := getMap(settings, "fields")
	if err != nil {
		return nil, err
	}
	if len(rawFields) == 0 {
		return nil, fmt.Errorf("random generator %s requires at least one field", instanceID)
	}
	names := make([]string, 0, len(rawFields))
	for name := range rawFields {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]randomField, 0, len(names))
	for _, name := range names {
		spec, err := getMap(rawFields, name)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		field, err := parseRandomField(name, spec)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		fields = append(fields, field)
	}

	return &randomGenerator{id: instanceID, source: src, fields: fields}, nil
}

func parseRandomField(name string, spec map[string]interface{}) (randomField, error) {
	kind, err := getString(spec, "type", "float")
	if err != nil {
		return randomField{}, err
	}
	field := randomField{name: name, kind: strings.ToLower(kind)}
	switch field.kind {
	case "float", "decimal":
		if field.min, err = getFloat(spec, "min", 0); err != nil {
			return randomField{}, err
		}
		if field.max, err = getFloat(spec, "max", 1); err != nil {
			return randomField{}, err
		}
		if field.max < field.min {
			return randomField{}, fmt.Errorf("invalid range [%f, %f]", field.min, field.max)
		}
		if field.kind == "decimal" {
			places, err := getInt(spec, "places", 2)
			if err != nil {
				return randomField{}, err
			}
			field.places = int32(places)
		}
	case "int":
		if field.intMin, err = getInt(spec, "min", 0); err != nil {
			return randomField{}, err
		}
		if field.intMax, err = getInt(spec, "max", 100); err != nil {
			return randomField{}, err
		}
		if field.intMax < field.intMin {
			return randomField{}, fmt.Errorf("invalid range [%d, %d]", field.intMin, field.intMax)
		}
	case "bool":
		if field.probability, err = getFloat(spec, "probability", 0.5); err != nil {
			return randomField{}, err
		}
	case "string":
		length, err := getInt(spec, "length", 8)
		if err != nil {
			return randomField{}, err
		}
		if length <= 0 {
			return randomField{}, fmt.Errorf("length must be positive, got %d", length)
		}
		field.length = int(length)
		alphabet, err := getString(spec, "alphabet", defaultAlphabet)
		if err != nil {
			return randomField{}, err
		}
		field.alphabet = []rune(alphabet)
		if len(field.alphabet) == 0 {
			return randomField{}, fmt.Errorf("alphabet must not be empty")
		}
	default:
		return randomField{}, fmt.Errorf("unsupported field type %q", kind)
	}
	return field, nil
}

func (g *randomGenerator) ID() string { return g.id }

func (g *randomGenerator) Next(Context) (map[string]interface{}, error) {
	payload := make(map[string]interface{}, len(g.fields))
	for _, field := range g.fields {
		switch field.kind {
		case "float":
			value, err := floatInRange(g.source, field.min, field.max)
			if err != nil {
				return nil, err
			}
			payload[field.name] = value
		case "decimal":
			value, err := floatInRange(g.source, field.min, field.max)
			if err != nil {
				return nil, err
			}
			payload[field.name] = decimal.NewFromFloat(value).Round(field.places)
		case "int":
			value, err := intInRange(g.source, field.intMin, field.intMax)
			if err != nil {
				return nil, err
			}
			payload[field.name] = value
		case "bool":
			value, err := boolWithProbability(g.source, field.probability)
			if err != nil {
				return nil, err
			}
			payload[field.name] = value
		case "string":
			value, err := stringFromAlphabet(g.source, field.length, field.alphabet)
			if err != nil {
				return nil, err
			}
			payload[field.name] = value
		}
	}
	return payload, nil
}

func init() {
	Register("random", newRandomGenerator)
}
