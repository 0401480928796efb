package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/rekapu/go-rekapu/service/persist"
	"github.com/rekapu/go-rekapu/util"
)

var integrityValidator = newIntegrityValidator()

func newIntegrityValidator() *validator.Validate {
	v := validator.New()
	// entity structs carry gin-style binding tags
	v.SetTagName("binding")
	return v
}

// ValidateDataIntegrity checks the live store for structural damage: cards
// with malformed or non-finite scheduling state, entities stored under a key
// that disagrees with their embedded ID, duplicate primary keys, and active
// tag names that resolve to no tag. It returns the list of problems found;
// the error return is reserved for store read failures.
func ValidateDataIntegrity(ctx context.Context, store persist.Store) ([]string, error) {
	problems := []string{}

	rawCards, err := store.GetAll(ctx, persist.CollectionCards)
	if err != nil {
		return nil, err
	}
	seenIDs := map[persist.DBID]string{}
	for _, key := range util.SortedKeys(rawCards) {
		var card persist.Card
		if err := json.Unmarshal(rawCards[key], &card); err != nil {
			problems = append(problems, fmt.Sprintf("card %s: malformed entity: %s", key, err))
			continue
		}
		if card.ID.String() != key {
			problems = append(problems, fmt.Sprintf("card %s: embedded ID %q disagrees with store key", key, card.ID))
		}
		if prev, ok := seenIDs[card.ID]; ok {
			problems = append(problems, fmt.Sprintf("card %s: duplicate primary key, also stored under %s", key, prev))
		} else {
			seenIDs[card.ID] = key
		}
		if err := integrityValidator.Struct(card); err != nil {
			problems = append(problems, fmt.Sprintf("card %s: %s", key, err))
		}
		for _, field := range []struct {
			name  string
			value float64
		}{
			{"intervalDays", card.Scheduling.IntervalDays},
			{"easeFactor", card.Scheduling.EaseFactor},
		} {
			if math.IsNaN(field.value) || math.IsInf(field.value, 0) {
				problems = append(problems, fmt.Sprintf("card %s: scheduling %s is not finite", key, field.name))
			}
		}
	}

	rawTags, err := store.GetAll(ctx, persist.CollectionTags)
	if err != nil {
		return nil, err
	}
	tagNames := map[string]bool{}
	for _, key := range util.SortedKeys(rawTags) {
		var tag persist.Tag
		if err := json.Unmarshal(rawTags[key], &tag); err != nil {
			problems = append(problems, fmt.Sprintf("tag %s: malformed entity: %s", key, err))
			continue
		}
		if err := integrityValidator.Struct(tag); err != nil {
			problems = append(problems, fmt.Sprintf("tag %s: %s", key, err))
		}
		if tagNames[tag.Name] {
			problems = append(problems, fmt.Sprintf("tag %s: duplicate tag name %q", key, tag.Name))
		}
		tagNames[tag.Name] = true
	}

	// active tag names are the one place tag references are mandatory
	rawActive, err := store.Get(ctx, persist.CollectionActiveTags, persist.ActiveTagsKey)
	if err == nil {
		var active []string
		if err := json.Unmarshal(rawActive, &active); err != nil {
			problems = append(problems, fmt.Sprintf("active tags: malformed entry: %s", err))
		} else {
			for _, name := range active {
				if !tagNames[name] {
					problems = append(problems, fmt.Sprintf("active tags: %q resolves to no tag", name))
				}
			}
		}
	} else if _, ok := err.(persist.ErrKeyNotFound); !ok {
		return nil, err
	}

	rawDomains, err := store.GetAll(ctx, persist.CollectionDomains)
	if err != nil {
		return nil, err
	}
	for _, key := range util.SortedKeys(rawDomains) {
		var domain persist.DomainSetting
		if err := json.Unmarshal(rawDomains[key], &domain); err != nil {
			problems = append(problems, fmt.Sprintf("domain %s: malformed entity: %s", key, err))
			continue
		}
		if err := integrityValidator.Struct(domain); err != nil {
			problems = append(problems, fmt.Sprintf("domain %s: %s", key, err))
		}
	}

	return problems, nil
}
