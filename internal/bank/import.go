package bank

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-cat/internal/cat"
	"github.com/mind-engage/mindengage-cat/internal/irt"
)

// Importer persists bank entries atomically.
type Importer interface {
	ImportItems(ctx context.Context, entries []cat.BankEntry) error
}

// ItemNamespace derives stable item ids so re-importing a file replaces
// rather than duplicates its items.
var ItemNamespace = uuid.MustParse("6b3f1c9e-5a57-4c1e-9f0b-2f8d6c7e4a10")

// ItemID is the stored id of file item fileID within assignmentID.
func ItemID(assignmentID string, fileID int64) string {
	return uuid.NewSHA1(ItemNamespace, []byte(assignmentID+"/"+strconv.FormatInt(fileID, 10))).String()
}

// ToEntries converts validated file items into bank entries for assignmentID.
func ToEntries(assignmentID string, items []FileItem) []cat.BankEntry {
	out := make([]cat.BankEntry, 0, len(items))
	for _, fi := range items {
		id := ItemID(assignmentID, *fi.ID)
		a, b, c := DefaultParamA, DefaultParamB, DefaultParamC
		if fi.ParamA != nil {
			a = *fi.ParamA
		}
		if fi.ParamB != nil {
			b = *fi.ParamB
		}
		if fi.ParamC != nil {
			c = *fi.ParamC
		}
		answer := strings.TrimSpace(fi.Answer)
		choices := make([]cat.KeyedChoice, len(fi.Options))
		for i, opt := range fi.Options {
			choices[i] = cat.KeyedChoice{
				Choice: cat.Choice{
					ID:      uuid.NewSHA1(ItemNamespace, []byte(id+"/"+strconv.Itoa(i))).String(),
					Content: opt,
				},
				Correct: strings.TrimSpace(opt) == answer,
			}
		}
		out = append(out, cat.BankEntry{
			Item: cat.Item{
				Item:         irt.Item{ID: id, A: a, B: b, C: c},
				AssignmentID: assignmentID,
				Content:      strings.TrimSpace(fi.Question),
			},
			Difficulty: strings.ToLower(strings.TrimSpace(fi.Difficulty)),
			Choices:    choices,
		})
	}
	return out
}

// Load decodes, validates and imports one bank file. Nothing is written when
// any item is invalid.
func Load(ctx context.Context, imp Importer, assignmentID string, r io.Reader) (int, error) {
	if strings.TrimSpace(assignmentID) == "" {
		return 0, fmt.Errorf("%w: assignment id is required", ErrMalformed)
	}
	items, err := Decode(r)
	if err != nil {
		return 0, err
	}
	if err := Validate(items); err != nil {
		return 0, err
	}
	entries := ToEntries(assignmentID, items)
	if err := imp.ImportItems(ctx, entries); err != nil {
		return 0, fmt.Errorf("import %d items: %w", len(entries), err)
	}
	return len(entries), nil
}
