package wger

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"unicode"

	"github.com/fitbridge/fitbridge/internal/domain/fitness"
)

// page is wger's standard pagination envelope.
type page[T any] struct {
	Count   int `json:"count"`
	Results []T `json:"results"`
}

// searchResponse is the autocomplete payload from /exercise/search/.
type searchResponse struct {
	Suggestions []struct {
		Value string `json:"value"`
		Data  struct {
			ID       int    `json:"id"`
			BaseID   int    `json:"base_id"`
			Name     string `json:"name"`
			Category string `json:"category"`
		} `json:"data"`
	} `json:"suggestions"`
}

// namedRef is a {id, name} reference used for categories, muscles, equipment.
type namedRef struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	NameEN string `json:"name_en"`
}

// translationDTO is one language entry under an exercise.
type translationDTO struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Language    int    `json:"language"`
}

// exerciseInfoDTO is the payload from /exerciseinfo/{id}/.
type exerciseInfoDTO struct {
	ID               int              `json:"id"`
	Category         namedRef         `json:"category"`
	Muscles          []namedRef       `json:"muscles"`
	MusclesSecondary []namedRef       `json:"muscles_secondary"`
	Equipment        []namedRef       `json:"equipment"`
	Translations     []translationDTO `json:"translations"`
}

// toDomain flattens the exercise info into the domain type, preferring the
// English translation and falling back to whatever translation exists.
func (d exerciseInfoDTO) toDomain() fitness.Exercise {
	ex := fitness.Exercise{
		ID:       d.ID,
		Category: d.Category.Name,
	}

	for _, t := range d.Translations {
		if t.Language == englishLanguageID {
			ex.Name = t.Name
			ex.Description = stripHTML(t.Description)
			break
		}
	}
	if ex.Name == "" && len(d.Translations) > 0 {
		ex.Name = d.Translations[0].Name
		ex.Description = stripHTML(d.Translations[0].Description)
	}

	for _, m := range d.Muscles {
		ex.Muscles = append(ex.Muscles, muscleName(m))
	}
	for _, m := range d.MusclesSecondary {
		ex.Muscles = append(ex.Muscles, muscleName(m))
	}
	for _, e := range d.Equipment {
		ex.Equipment = append(ex.Equipment, e.Name)
	}

	return ex
}

// muscleName prefers the English common name over the anatomical one.
func muscleName(m namedRef) string {
	if m.NameEN != "" {
		return m.NameEN
	}
	return m.Name
}

// workoutDTO is one routine from /workout/.
type workoutDTO struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	CreationDate string `json:"creation_date"`
}

// weightEntryDTO is one measurement from /weightentry/.
type weightEntryDTO struct {
	ID     int       `json:"id"`
	Date   string    `json:"date"`
	Weight jsonFloat `json:"weight"`
}

// equipmentDTO is one item from /equipment/.
type equipmentDTO struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// jsonFloat decodes numbers the API encodes as either JSON numbers or
// decimal strings ("82.50").
type jsonFloat float64

func (f *jsonFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse decimal %q: %w", s, err)
	}
	*f = jsonFloat(v)
	return nil
}

// stripHTML reduces wger's rich-text descriptions to plain text: tags are
// dropped, entities unescaped, and whitespace collapsed to single spaces.
func stripHTML(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}

	return strings.Join(strings.FieldsFunc(html.UnescapeString(b.String()), unicode.IsSpace), " ")
}
