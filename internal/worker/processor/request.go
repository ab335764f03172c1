package processor

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"lipsync/internal/pkg/errors"
)

// Accepted upload extensions, compared case-insensitively.
var (
	VisualExtensions = []string{"mp4", "png", "jpg", "jpeg"}
	AudioExtensions  = []string{"wav", "mp3"}
)

// RunRequest is a submitted run before its inputs are stored.
type RunRequest struct {
	VideoName  string `validate:"required,visual_ext"`
	AudioName  string `validate:"required,audio_ext"`
	UseFloat16 bool
	BatchSize  int `validate:"min=1"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("visual_ext", extValidator(VisualExtensions))
	_ = v.RegisterValidation("audio_ext", extValidator(AudioExtensions))
	return v
}

func extValidator(allowed []string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return hasExtension(fl.Field().String(), allowed)
	}
}

func hasExtension(name string, allowed []string) bool {
	ext := strings.ToLower(strings.TrimPrefix(Suffix(name), "."))
	for _, a := range allowed {
		if ext == a {
			return true
		}
	}
	return false
}

var fieldNames = map[string]string{
	"VideoName": "video",
	"AudioName": "audio",
	"BatchSize": "batch_size",
}

// Validate reports the first invalid field as a VALIDATION_ERROR.
func (r RunRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.WrapWithCode(err, errors.CodeValidation, "processor.validate", "invalid run request")
	}

	fe := verrs[0]
	field := fieldNames[fe.StructField()]
	switch fe.Tag() {
	case "required":
		return errors.ValidationField(field, fmt.Sprintf("%s file is required", field))
	case "visual_ext":
		return errors.ValidationField(field, fmt.Sprintf("video must be one of: %s", strings.Join(VisualExtensions, ", "))).
			WithField("filename", fe.Value())
	case "audio_ext":
		return errors.ValidationField(field, fmt.Sprintf("audio must be one of: %s", strings.Join(AudioExtensions, ", "))).
			WithField("filename", fe.Value())
	case "min":
		return errors.ValidationField(field, "batch_size must be at least 1")
	default:
		return errors.ValidationField(field, fmt.Sprintf("%s is invalid", field))
	}
}
