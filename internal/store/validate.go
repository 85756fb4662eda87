package store

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"smartcal/internal/calendar"
	"smartcal/internal/model"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("datekey", func(fl validator.FieldLevel) bool {
		return calendar.ValidDateKey(fl.Field().String())
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("eventcolor", func(fl validator.FieldLevel) bool {
		return KnownColor(fl.Field().String())
	})
	return v
}

// KnownColor reports whether c is one of the selectable color values.
func KnownColor(c string) bool {
	for _, ec := range model.EventColors {
		if ec.Value == c {
			return true
		}
	}
	return false
}

// normalize trims user input and validates the editable fields. A blank
// title is reported as ErrEmptyTitle so the UI can refuse silently.
func normalize(ev *model.CalendarEvent) error {
	ev.Title = strings.TrimSpace(ev.Title)
	ev.Description = strings.TrimSpace(ev.Description)
	if ev.Title == "" {
		return ErrEmptyTitle
	}
	if ev.Color == "" {
		ev.Color = model.DefaultEventColor
	}
	if err := validate.Struct(ev); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}
