package event

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kimiroo/ice-server/internal/domain/model"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report wire names ("event") instead of Go field names ("Name").
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Draft is an inbound event as submitted by a producer, before arbitration.
type Draft struct {
	ID     string         `json:"id" validate:"required"`
	Name   string         `json:"event" validate:"required"`
	Type   string         `json:"type" validate:"required"`
	Source string         `json:"source" validate:"required"`
	Data   map[string]any `json:"data,omitempty"`
}

// Validate checks required-field presence only and names the first missing field.
func (d Draft) Validate() error {
	d.ID = strings.TrimSpace(d.ID)
	d.Name = strings.TrimSpace(d.Name)
	d.Type = strings.TrimSpace(d.Type)
	d.Source = strings.TrimSpace(d.Source)

	err := validate.Struct(d)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &model.ValidationError{Field: verrs[0].Field(), Reason: "is required"}
	}
	return &model.ValidationError{Field: "event", Reason: err.Error()}
}

// Build freezes the draft into an immutable Event.
func (d Draft) Build(now func() time.Time) *Event {
	return NewWithClock(d.ID, d.Name, d.Type, d.Source, d.Data, now)
}
