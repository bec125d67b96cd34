// Package bank reads question-bank files and loads them into a store.
//
// A bank file is a JSON array of items:
//
//	[{"id": 1, "question": "...", "options": ["A", "B"], "answer": "A",
//	  "difficulty": "Easy", "param_a": 1.1, "param_b": -0.4, "param_c": 0.2}]
//
// Missing IRT parameters default to a=1.0, b=0.0, c=0.2.
package bank

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultParamA = 1.0
	DefaultParamB = 0.0
	DefaultParamC = 0.2
)

// FileItem is one entry of a bank file.
type FileItem struct {
	ID         *int64   `json:"id" validate:"required"`
	Question   string   `json:"question" validate:"notblank"`
	Options    []string `json:"options" validate:"min=2"`
	Answer     string   `json:"answer" validate:"required"`
	Difficulty string   `json:"difficulty" validate:"difficulty"`
	ParamA     *float64 `json:"param_a" validate:"omitempty,gt=0"`
	ParamB     *float64 `json:"param_b"`
	ParamC     *float64 `json:"param_c" validate:"omitempty,gte=0,lte=1"`
}

// ErrMalformed reports a body that is not a JSON array of items.
var ErrMalformed = errors.New("malformed bank file")

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = validate.RegisterValidation("difficulty", func(fl validator.FieldLevel) bool {
		switch strings.ToLower(strings.TrimSpace(fl.Field().String())) {
		case "easy", "medium", "hard":
			return true
		}
		return false
	})
}

// ValidationError lists every problem found in a file.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("bank file has %d problem(s): %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

// Decode parses a bank file without validating it.
func Decode(r io.Reader) ([]FileItem, error) {
	var items []FileItem
	dec := json.NewDecoder(r)
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return items, nil
}

// Validate checks every item and returns a *ValidationError listing all
// problems, or nil.
func Validate(items []FileItem) error {
	var problems []string
	if len(items) == 0 {
		problems = append(problems, "file contains no items")
	}
	seen := make(map[int64]int, len(items))
	for i, it := range items {
		label := fmt.Sprintf("item %d", i+1)
		if it.ID != nil {
			label = fmt.Sprintf("item id %d", *it.ID)
			if prev, dup := seen[*it.ID]; dup {
				problems = append(problems, fmt.Sprintf("%s: duplicate of item %d", label, prev))
			} else {
				seen[*it.ID] = i + 1
			}
		}

		if err := validate.Struct(it); err != nil {
			var verrs validator.ValidationErrors
			if !errors.As(err, &verrs) {
				return err
			}
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s: %s", label, describe(fe)))
			}
		}
		if strings.TrimSpace(it.Answer) != "" && !containsTrimmed(it.Options, it.Answer) {
			problems = append(problems, fmt.Sprintf("%s: answer is not one of the options", label))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "notblank":
		return field + " is required"
	case "min":
		return field + " needs at least " + fe.Param()
	case "difficulty":
		return "difficulty must be one of easy, medium, hard"
	case "gt":
		return field + " must be greater than " + fe.Param()
	case "gte", "lte":
		return field + " must be within [0,1]"
	default:
		return field + " is invalid (" + fe.Tag() + ")"
	}
}

func containsTrimmed(options []string, answer string) bool {
	a := strings.TrimSpace(answer)
	for _, o := range options {
		if strings.TrimSpace(o) == a {
			return true
		}
	}
	return false
}
