// videocursor/edit/validate.go
package edit

import (
	"fmt"
	"regexp"

	"github.com/mitchellh/mapstructure"
)

var bitratePattern = regexp.MustCompile(`^[0-9]+k$`)

// ValidationError reports a parameter that failed range or presence checks.
// It names the offending field so the message can be surfaced verbatim.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func checkRange(field string, v, lo, hi float64) error {
	if v < lo || v > hi {
		return &ValidationError{
			Field:  field,
			Reason: fmt.Sprintf("%g is outside [%g, %g]", v, lo, hi),
		}
	}
	return nil
}

func checkSpan(start, end float64) error {
	if start < 0 {
		return &ValidationError{Field: "start_time", Reason: "must not be negative"}
	}
	if end <= start {
		return &ValidationError{Field: "end_time", Reason: "must be after start_time"}
	}
	return nil
}

// Finalize applies declared defaults to op and range-checks every field.
// Every Operation must pass through here before reaching the executor.
func Finalize(op Operation) error {
	op.normalize()
	return op.check()
}

func newOperation(kind Kind) (Operation, error) {
	switch kind {
	case KindTrim:
		return &Trim{}, nil
	case KindSplice:
		return &Splice{}, nil
	case KindEffects:
		return &Effects{}, nil
	case KindExtractAudio:
		return &ExtractAudio{}, nil
	case KindBackgroundAudio:
		return &BackgroundAudio{}, nil
	case KindSoundEffect:
		return &SoundEffect{}, nil
	case KindSubtitles:
		return &Subtitles{}, nil
	case KindConvert:
		return &Convert{}, nil
	case KindGif:
		return &Gif{}, nil
	}
	return nil, &ValidationError{Field: "operation", Reason: "unknown operation kind " + string(kind)}
}

// Validate maps loosely-typed parameters (classifier output, form posts)
// into a strictly-typed Operation. Unknown kinds and out-of-range fields
// are rejected; nothing loosely typed ever reaches the executor directly.
func Validate(kind Kind, raw map[string]interface{}) (Operation, error) {
	op, err := newOperation(kind)
	if err != nil {
		return nil, err
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           op,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, &ValidationError{Field: string(kind), Reason: err.Error()}
	}

	if err := Finalize(op); err != nil {
		return nil, err
	}
	return op, nil
}
